// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package i18n

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitAndLanguages(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
	langs := Languages()
	if len(langs) != 2 || langs[0] != "de" || langs[1] != "en" {
		t.Fatalf("unexpected embedded languages: %v", langs)
	}
}

func TestT_BasicAndFormatting(t *testing.T) {
	Init("en")
	t.Cleanup(func() { Init("en") })

	if got := T("router.not_admin"); got != "Sorry, only admins can use this command." {
		t.Fatalf("unexpected translation: %q", got)
	}
	if got := T("servers.success", 3); got != "Success! 3 servers." {
		t.Fatalf("unexpected formatted translation: %q", got)
	}
	if got := T("no.such.id"); got != "no.such.id" {
		t.Fatalf("expected unknown id fallback, got %q", got)
	}

	Init("de")
	if got := T("servers.success", 2); got != "Erfolg! 2 Server." {
		t.Fatalf("expected German translation, got %q", got)
	}
}

// Every locale must translate exactly the keys of the English catalog.
func TestCatalogsHaveTheSameKeys(t *testing.T) {
	load := func(name string) map[string]any {
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		out := map[string]any{}
		if err := yaml.Unmarshal(data, &out); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		return out
	}
	en := load("en.yaml")
	for _, lang := range Languages() {
		if lang == "en" {
			continue
		}
		other := load(lang + ".yaml")
		for k := range en {
			if _, ok := other[k]; !ok {
				t.Errorf("%s.yaml misses %s", lang, k)
			}
		}
		for k := range other {
			if _, ok := en[k]; !ok {
				t.Errorf("%s.yaml has orphaned key %s", lang, k)
			}
		}
	}
}
