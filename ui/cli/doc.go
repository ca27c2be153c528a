// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the command-line interface for keymaster-chatops
// using Cobra. It loads configuration, opens the binding store and the SSH
// fleet dialer, and hands chat commands to the router. Business logic stays
// in the internal packages.
package cli
