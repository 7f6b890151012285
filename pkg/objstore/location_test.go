package objstore

import "testing"

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{in: "s3://minio/bucket/dir/data.nc", want: Location{"s3", "minio", "bucket", "dir/data.nc"}},
		{in: "S3://host:9000/b/k", want: Location{"s3", "host:9000", "b", "k"}},
		{in: "mem://local/b/", want: Location{"mem", "local", "b", ""}},
		{in: "mem://local/b", want: Location{"mem", "local", "b", ""}},
		{in: "/tmp/data.nc", wantErr: true},
		{in: "s3://host", wantErr: true},
		{in: "s3:///bucket/key", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLocation(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLocation(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLocation(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLocation(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestIsRemote(t *testing.T) {
	for p, want := range map[string]bool{
		"s3://h/b/k":      true,
		"file://root/b/k": true,
		"data/file.nc":    false,
		"/abs/a://b":      false,
		"":                false,
	} {
		if got := IsRemote(p); got != want {
			t.Errorf("IsRemote(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestLocationDir(t *testing.T) {
	loc := Location{Scheme: "s3", Host: "h", Bucket: "b", Key: "out/data.nca"}
	if got := loc.Dir(); got != "out/" {
		t.Errorf("Dir() = %q, want %q", got, "out/")
	}
	if got := loc.WithKey("top.nc").Dir(); got != "" {
		t.Errorf("Dir() = %q, want empty", got)
	}
	if got := loc.String(); got != "s3://h/b/out/data.nca" {
		t.Errorf("String() = %q", got)
	}
}
