package hdcp

import "testing"

// unpack mirrors the original ABitReader walk over HDCP_private_data:
// 13 reserved, 2-bit streamCTR chunk, marker, 15-bit chunk, marker,
// 15-bit chunk, marker, 11 reserved, 4-bit inputCTR chunk, marker,
// four 15-bit chunks each followed by a marker.
func unpack(d [16]byte) (streamCTR, inputCTR uint64) {
	streamCTR |= uint64((d[1]>>1)&3) << 30
	streamCTR |= uint64(d[2]) << 22
	streamCTR |= uint64((d[3]>>1)&0x7f) << 15
	streamCTR |= uint64(d[4]) << 7
	streamCTR |= uint64((d[5] >> 1) & 0x7f)

	inputCTR |= uint64((d[7]>>1)&0x0f) << 60
	inputCTR |= uint64(d[8]) << 52
	inputCTR |= uint64((d[9]>>1)&0x7f) << 45
	inputCTR |= uint64(d[10]) << 37
	inputCTR |= uint64((d[11]>>1)&0x7f) << 30
	inputCTR |= uint64(d[12]) << 22
	inputCTR |= uint64((d[13]>>1)&0x7f) << 15
	inputCTR |= uint64(d[14]) << 7
	inputCTR |= uint64((d[15] >> 1) & 0x7f)

	return streamCTR, inputCTR
}

func TestPrivateDataRoundTrip(t *testing.T) {
	cases := []struct {
		streamCTR, inputCTR uint64
	}{
		{0, 0},
		{1, 1},
		{3, 0xFFFFFFFFFFFFF},
		{2, 0x123456789ABCD},
	}

	for _, c := range cases {
		d := PrivateData(c.streamCTR, c.inputCTR)

		// Marker bits (the low bit of bytes 1,3,5,7,9,11,13,15) are
		// always 1.
		for _, idx := range []int{1, 3, 5, 7, 9, 11, 13, 15} {
			if d[idx]&1 != 1 {
				t.Fatalf("expected marker bit set at byte %d, got %#x", idx, d[idx])
			}
		}
		if d[0] != 0 || d[6] != 0 {
			t.Fatalf("expected reserved bytes 0 and 6 to be zero, got %#x %#x", d[0], d[6])
		}

		gotStream, gotInput := unpack(d)
		wantStream := c.streamCTR & 0xffffffff
		if gotStream != wantStream {
			t.Errorf("streamCTR round trip: got %d want %d", gotStream, wantStream)
		}
		if gotInput != c.inputCTR {
			t.Errorf("inputCTR round trip: got %#x want %#x", gotInput, c.inputCTR)
		}
	}
}
