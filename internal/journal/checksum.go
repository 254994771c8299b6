package journal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 journal 記錄的 CRC32 校驗和
// ============================================================================

import (
	"encoding/json"
	"hash/crc32"
)

// Checksum 計算記錄的 CRC32-IEEE 校驗和
//
// 校驗範圍為 Checksum 欄位歸零後的完整 JSON 編碼。
func Checksum(rec Record) uint32 {
	rec.Checksum = 0
	data, err := json.Marshal(rec)
	if err != nil {
		return 0
	}
	return crc32.ChecksumIEEE(data)
}

// Verify 驗證記錄的校驗和
func Verify(rec Record) bool {
	return rec.Checksum == Checksum(rec)
}
