package fragments

// ZigZagEncode64 maps signed integers to unsigned integers so that
// values of small magnitude have small encodings: 0, -1, 1, -2, ...
// map to 0, 1, 2, 3, ...
func ZigZagEncode64(n int64) uint64 {
	return uint64(n<<1) ^ uint64(n>>63)
}

// ZigZagDecode64 is the inverse of [ZigZagEncode64].
func ZigZagDecode64(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// ZigZagEncode32 is the 32-bit version of [ZigZagEncode64].
func ZigZagEncode32(n int32) uint32 {
	return uint32(n<<1) ^ uint32(n>>31)
}

// ZigZagDecode32 is the inverse of [ZigZagEncode32].
func ZigZagDecode32(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}
