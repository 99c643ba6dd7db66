package config

import "testing"

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		src     MapSource
		wantErr string
		want    Credentials
	}{
		{
			name: "defaults base url",
			src: MapSource{
				"XRAY_CLIENT_ID":     "id",
				"XRAY_CLIENT_SECRET": "secret",
			},
			want: Credentials{ClientID: "id", ClientSecret: "secret", BaseURL: defaultBaseURL},
		},
		{
			name: "explicit base url, trailing slash trimmed",
			src: MapSource{
				"XRAY_CLIENT_ID":     "id",
				"XRAY_CLIENT_SECRET": "secret",
				"XRAY_BASE_URL":      "https://example.test/",
			},
			want: Credentials{ClientID: "id", ClientSecret: "secret", BaseURL: "https://example.test"},
		},
		{
			name:    "missing client id",
			src:     MapSource{"XRAY_CLIENT_SECRET": "secret"},
			wantErr: "XRAY_CLIENT_ID",
		},
		{
			name:    "empty client secret",
			src:     MapSource{"XRAY_CLIENT_ID": "id", "XRAY_CLIENT_SECRET": ""},
			wantErr: "XRAY_CLIENT_SECRET",
		},
		{
			name: "non-https base url rejected",
			src: MapSource{
				"XRAY_CLIENT_ID":     "id",
				"XRAY_CLIENT_SECRET": "secret",
				"XRAY_BASE_URL":      "http://example.test",
			},
			wantErr: "XRAY_BASE_URL",
		},
		{
			name: "relative base url rejected",
			src: MapSource{
				"XRAY_CLIENT_ID":     "id",
				"XRAY_CLIENT_SECRET": "secret",
				"XRAY_BASE_URL":      "not-a-url",
			},
			wantErr: "XRAY_BASE_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if got := err.Error(); !contains(got, tt.wantErr) {
					t.Fatalf("error %q does not mention %q", got, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
