package chain

import "testing"

func TestParseAddressRoundTrip(t *testing.T) {
	addr, err := ParseAddress(-1, "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !addr.IsMasterchain() {
		t.Fatal("expected workchain -1 to be masterchain")
	}
	back, err := ParseAddress(addr.Workchain, addr.String()[len("-1:"):])
	if err != nil {
		t.Fatalf("unexpected error re-parsing: %v", err)
	}
	if back != addr {
		t.Fatalf("round trip mismatch: %v != %v", back, addr)
	}
}

func TestParseAddressRejectsWrongLength(t *testing.T) {
	if _, err := ParseAddress(0, "ab"); err == nil {
		t.Fatal("expected error for short account id")
	}
}

func TestShardIDIntersectsAncestor(t *testing.T) {
	root := ShardID{Workchain: 0, Prefix: 0x8000000000000000}
	left := ShardID{Workchain: 0, Prefix: 0x4000000000000000}
	if !root.Intersects(left) {
		t.Fatal("expected root shard to intersect its child")
	}
	if !left.Intersects(root) {
		t.Fatal("intersects must be symmetric")
	}
}

func TestShardIDDoesNotIntersectSiblings(t *testing.T) {
	left := ShardID{Workchain: 0, Prefix: 0x4000000000000000}
	right := ShardID{Workchain: 0, Prefix: 0xc000000000000000}
	if left.Intersects(right) {
		t.Fatal("sibling shards must not intersect")
	}
}

func TestShardIDDifferentWorkchainsNeverIntersect(t *testing.T) {
	a := ShardID{Workchain: 0, Prefix: 0x8000000000000000}
	b := ShardID{Workchain: 1, Prefix: 0x8000000000000000}
	if a.Intersects(b) {
		t.Fatal("shards in different workchains must never intersect")
	}
}

func TestHexToHashRoundTrip(t *testing.T) {
	h, err := HexToHash("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.String() != "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff" {
		t.Fatalf("unexpected round trip: %s", h.String())
	}
}
