package archive

import "testing"

func TestKeyJoinsPrefixAndProducer(t *testing.T) {
	a := &Archiver{prefix: "backups/", bucket: "test-bucket"}
	if got := a.key("acme"); got != "backups/acme.tar.gz" {
		t.Errorf("key(acme) = %q, want backups/acme.tar.gz", got)
	}
}

func TestKeyWithoutPrefix(t *testing.T) {
	a := &Archiver{bucket: "test-bucket"}
	if got := a.key("acme"); got != "acme.tar.gz" {
		t.Errorf("key(acme) = %q, want acme.tar.gz", got)
	}
}
