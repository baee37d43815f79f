package pools

import "testing"

func TestBytePoolTiers(t *testing.T) {
	bp := NewBytePool()

	for _, size := range []int{1, 512, 513, 8192, ScratchSize} {
		buf := bp.Get(size)
		if len(buf) != size {
			t.Errorf("Get(%d) returned len %d", size, len(buf))
		}
		bp.Put(buf)
	}

	big := bp.Get(ScratchSize + 1)
	if len(big) != ScratchSize+1 {
		t.Errorf("Oversized Get returned len %d", len(big))
	}
	bp.Put(big)
}

func TestGlobalScratch(t *testing.T) {
	buf := GetBytes(ScratchSize)
	if cap(buf) != ScratchSize {
		t.Errorf("Expected scratch capacity %d, got %d", ScratchSize, cap(buf))
	}
	PutBytes(buf)
}
