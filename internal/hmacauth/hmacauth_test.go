package hmacauth

import "testing"

func TestTagVerifyRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
	cid := "20260729-142233-1234-deadbeef"

	tag := Tag(key, cid)
	if len(tag) != 64 {
		t.Fatalf("tag length = %d, want 64", len(tag))
	}
	if !Verify(key, cid, tag) {
		t.Fatal("Verify rejected a correctly-computed tag")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key1 := []byte("key-one")
	key2 := []byte("key-two")
	cid := "20260729-142233-1234-deadbeef"

	tag := Tag(key1, cid)
	if Verify(key2, cid, tag) {
		t.Fatal("Verify accepted a tag computed under a different key")
	}
}

func TestVerifyRejectsWrongCid(t *testing.T) {
	key := []byte("shared-secret")
	tag := Tag(key, "cid-one")
	if Verify(key, "cid-two", tag) {
		t.Fatal("Verify accepted a tag for a different cid")
	}
}

func TestVerifyRejectsMalformedTag(t *testing.T) {
	key := []byte("shared-secret")
	cid := "20260729-142233-1234-deadbeef"

	tests := []string{
		"",
		"00000000000000000000000000000000000000000000000000000000000000", // 62 chars
		"zz00000000000000000000000000000000000000000000000000000000000",  // non-hex
		"short",
	}
	for _, tag := range tests {
		if Verify(key, cid, tag) {
			t.Errorf("Verify accepted malformed tag %q", tag)
		}
	}
}

func TestTagDeterministic(t *testing.T) {
	key := []byte("shared-secret")
	cid := "20260729-142233-1234-deadbeef"
	if Tag(key, cid) != Tag(key, cid) {
		t.Fatal("Tag is not deterministic for identical inputs")
	}
}
