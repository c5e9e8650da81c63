package config

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"quality zero", func(c *Config) { c.DefaultQuality = 0 }, true},
		{"no stages", func(c *Config) { c.Device.EnrollStages = 0 }, true},
		{"negative threshold", func(c *Config) { c.Device.MatchThreshold = -1 }, true},
		{"local without root", func(c *Config) { c.Storage = StorageLocal }, true},
		{"local with root", func(c *Config) { c.Storage = StorageLocal; c.Local.RootDir = "/tmp/prints" }, false},
		{"s3 without bucket", func(c *Config) { c.Storage = StorageS3 }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			err := Validate(c)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate: got %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
