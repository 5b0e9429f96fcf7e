package replacer

import "testing"

func TestReplace(t *testing.T) {
	tests := []struct {
		name     string
		template string
		values   map[string]string
		want     string
	}{
		{
			"single placeholder",
			"https://shop.example.com/reset?token={token}",
			map[string]string{"token": "abc"},
			"https://shop.example.com/reset?token=abc",
		},
		{
			"case insensitive",
			"Hello {Login}, follow {URL}",
			map[string]string{"login": "bob", "url": "https://x"},
			"Hello bob, follow https://x",
		},
		{
			"repeated placeholder",
			"{name} and {name}",
			map[string]string{"name": "x"},
			"x and x",
		},
		{
			"unknown placeholders survive",
			"{userId}/{unknown}",
			map[string]string{"userId": "7"},
			"7/{unknown}",
		},
		{
			"empty template",
			"",
			map[string]string{"a": "b"},
			"",
		},
		{
			"no values",
			"{a}",
			nil,
			"{a}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Replace(tt.template, tt.values); got != tt.want {
				t.Errorf("Replace(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}
