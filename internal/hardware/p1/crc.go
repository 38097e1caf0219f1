package p1

// CRC16 computes CRC-16/ARC: reflected polynomial 0xA001, initial value 0.
// DSMR 4 and later sign everything from '/' through '!' with it.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
