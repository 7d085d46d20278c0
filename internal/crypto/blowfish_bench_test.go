package crypto

import (
	"fmt"
	"testing"
)

// BenchmarkBlowfishEncrypt — hotpath: шифрование каждого исходящего кадра
func BenchmarkBlowfishEncrypt(b *testing.B) {
	b.ReportAllocs()

	cipher, err := NewBlowfishCipher(testKey)
	if err != nil {
		b.Fatalf("failed to create cipher: %v", err)
	}

	data := make([]byte, 128) // кадр с одной записью тайла

	b.ResetTimer()
	for range b.N {
		if err := cipher.Encrypt(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkBlowfishEncrypt_Sizes — производительность для разных размеров кадров
func BenchmarkBlowfishEncrypt_Sizes(b *testing.B) {
	sizes := []int{16, 128, 1024, 8192}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("%dB", size), func(b *testing.B) {
			b.ReportAllocs()

			cipher, err := NewBlowfishCipher(testKey)
			if err != nil {
				b.Fatalf("failed to create cipher: %v", err)
			}

			data := make([]byte, size)
			b.SetBytes(int64(size)) // Для расчета throughput (MB/s)

			b.ResetTimer()
			for range b.N {
				if err := cipher.Encrypt(data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkBlowfishDecrypt — hotpath: дешифрование каждого входящего кадра
func BenchmarkBlowfishDecrypt(b *testing.B) {
	b.ReportAllocs()

	cipher, err := NewBlowfishCipher(testKey)
	if err != nil {
		b.Fatalf("failed to create cipher: %v", err)
	}

	data := make([]byte, 128)

	b.ResetTimer()
	for range b.N {
		if err := cipher.Decrypt(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkChecksum — запечатывание и проверка контрольной суммы кадра
func BenchmarkChecksum(b *testing.B) {
	b.ReportAllocs()

	data := make([]byte, 128)

	b.ResetTimer()
	for range b.N {
		SealChecksum(data)
		if !VerifyChecksum(data) {
			b.Fatal("checksum mismatch")
		}
	}
}
