package checksum

import (
	"strings"
	"testing"
)

func TestDigest_Deterministic(t *testing.T) {
	a := Digest([]byte("hello"))
	b := Digest([]byte("hello"))
	if a != b {
		t.Fatalf("digest not deterministic: %s vs %s", a, b)
	}
	if c := Digest([]byte("hello!")); c == a {
		t.Fatalf("different content produced identical digest %s", c)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestDigestReader_MatchesDigest(t *testing.T) {
	content := strings.Repeat("abc123", 1000)
	got, err := DigestReader(strings.NewReader(content))
	if err != nil {
		t.Fatalf("DigestReader: %v", err)
	}
	if want := Digest([]byte(content)); got != want {
		t.Fatalf("stream digest %s != buffer digest %s", got, want)
	}
}

func TestAggregate_OrderIndependent(t *testing.T) {
	a := Aggregate(map[string]string{"users": "aaa", "posts": "bbb"})
	b := Aggregate(map[string]string{"posts": "bbb", "users": "aaa"})
	if a != b {
		t.Fatalf("aggregate depends on map order: %s vs %s", a, b)
	}
	c := Aggregate(map[string]string{"posts": "bbb", "users": "ccc"})
	if c == a {
		t.Fatalf("changed item checksum did not change aggregate")
	}
}

func TestCountRecords(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", `{"id":1}`, 1, false},
		{"multiple", "{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n", 3, false},
		{"blank lines skipped", "{\"id\":1}\n\n{\"id\":2}\n", 2, false},
		{"array not object", `[1,2,3]`, 0, true},
		{"garbage", "not json", 0, true},
		{"bad middle line", "{\"id\":1}\nnope\n{\"id\":2}", 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CountRecords([]byte(c.in))
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error, got count=%d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CountRecords: %v", err)
			}
			if got != c.want {
				t.Fatalf("count = %d, want %d", got, c.want)
			}
		})
	}
}
