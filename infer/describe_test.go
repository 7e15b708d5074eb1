package infer

import (
	"errors"
	"testing"
)

func TestParseDescribe(t *testing.T) {
	body := []byte(`{
		"version": "2.4.1",
		"msg": "ok",
		"/vehicle": {"networkWidth": 608, "networkHeight": 608},
		"/person": {"networkWidth": 416, "networkHeight": 416},
		"/vehicle_color": {"networkWidth": 224, "networkHeight": 224}
	}`)

	d, err := parseDescribe(body)
	if err != nil {
		t.Fatalf("parseDescribe: %v", err)
	}
	if d.Version != [3]int{2, 4, 1} {
		t.Fatalf("version = %v, want [2 4 1]", d.Version)
	}

	paths := d.ModelPaths()
	want := []string{"/person", "/vehicle", "/vehicle_color"}
	if len(paths) != len(want) {
		t.Fatalf("ModelPaths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("ModelPaths = %v, want %v", paths, want)
		}
	}

	m, err := d.Model("/vehicle")
	if err != nil {
		t.Fatalf("Model(/vehicle): %v", err)
	}
	if m.NetworkWidth != 608 || m.NetworkHeight != 608 {
		t.Fatalf("model = %+v, want 608x608", m)
	}

	if _, err := d.Model("/face"); err == nil {
		t.Fatal("Model(/face) should fail for an unserved model")
	}
}

func TestParseDescribe_BadVersion(t *testing.T) {
	if _, err := parseDescribe([]byte(`{"version": "two.two"}`)); err == nil {
		t.Fatal("expected error for unparseable version")
	}
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		version [3]int
		want    bool
	}{
		{[3]int{1, 9, 0}, false},
		{[3]int{2, 0, 0}, false},
		{[3]int{2, 1, 5}, false},
		{[3]int{2, 2, 0}, true},
		{[3]int{2, 3, 1}, true},
		{[3]int{3, 0, 0}, true},
	}
	for _, tt := range tests {
		if got := compatible(tt.version); got != tt.want {
			t.Errorf("compatible(%v) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

func TestClient_Describe_Incompatible(t *testing.T) {
	addr := newInferServer(t, describeBody("2.1.0", "/vehicle"), nil)

	c := NewClient(addr, testLogger())
	defer c.Close()

	_, err := c.Describe(t.Context())
	if !errors.Is(err, ErrIncompatibleVersion) {
		t.Fatalf("err = %v, want ErrIncompatibleVersion", err)
	}
}

func TestClient_Describe_Cached(t *testing.T) {
	addr := newInferServer(t, describeBody("2.2.0", "/vehicle"), nil)

	c := NewClient(addr, testLogger())
	defer c.Close()

	first, err := c.Describe(t.Context())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	second, err := c.Describe(t.Context())
	if err != nil {
		t.Fatalf("Describe (cached): %v", err)
	}
	if first != second {
		t.Fatal("second Describe should return the cached response")
	}
}
