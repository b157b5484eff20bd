package logger

import "testing"

func TestMaskData(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]any
		rules []MaskingRule
		check func(t *testing.T, out map[string]any)
	}{
		{
			name:  "full mask nested field",
			data:  map[string]any{"body": map[string]any{"token": "eyJhbGciOi.payload.sig", "expires_at": "x"}},
			rules: []MaskingRule{{Field: "body.token", Type: MaskingTypeFull}},
			check: func(t *testing.T, out map[string]any) {
				body := out["body"].(map[string]any)
				if body["token"] != "***" {
					t.Errorf("token not masked: %v", body["token"])
				}
				if body["expires_at"] != "x" {
					t.Errorf("unrelated field changed: %v", body["expires_at"])
				}
			},
		},
		{
			name:  "wildcard over array elements",
			data:  map[string]any{"keys": []any{map[string]any{"n": "abcdefghij"}, map[string]any{"n": "klmnopqrst"}}},
			rules: []MaskingRule{{Field: "keys.n", Type: MaskingTypePartial}},
			check: func(t *testing.T, out map[string]any) {
				for _, k := range out["keys"].([]any) {
					if n := k.(map[string]any)["n"].(string); n[1:9] != "********" {
						t.Errorf("expected partial mask, got %s", n)
					}
				}
			},
		},
		{
			name:  "tail mask keeps suffix",
			data:  map[string]any{"kid": "ES256-abcdef123456"},
			rules: []MaskingRule{{Field: "kid", Type: MaskingTypeTail}},
			check: func(t *testing.T, out map[string]any) {
				if out["kid"] != "***123456" {
					t.Errorf("unexpected tail mask: %v", out["kid"])
				}
			},
		},
		{
			name:  "array flag masks each element",
			data:  map[string]any{"roles": []any{"admin", "member"}},
			rules: []MaskingRule{{Field: "roles", Type: MaskingTypeFull, IsArray: true}},
			check: func(t *testing.T, out map[string]any) {
				for _, r := range out["roles"].([]any) {
					if r != "***" {
						t.Errorf("element not masked: %v", r)
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := MaskData(tt.data, tt.rules).(map[string]any)
			if !ok {
				t.Fatal("expected map output")
			}
			tt.check(t, out)
		})
	}
}

func TestMaskDataDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"token": "secret-token"}
	MaskData(in, []MaskingRule{{Field: "token", Type: MaskingTypeFull}})
	if in["token"] != "secret-token" {
		t.Fatal("input was mutated")
	}
}
