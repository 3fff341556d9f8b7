package converter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var ErrNotWAV = errors.New("not a PCM WAV payload")

// ContentType negocia o content-type a partir da codificação do dispositivo
func ContentType(format models.AudioFormat) string {
	switch format.Encoding {
	case "pcm_s16le", "wav":
		return "audio/wav"
	case "webm/opus", "webm":
		return "audio/webm"
	case "mp4", "aac":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// FileExtension é usada no nome do arquivo enviado para análise
func FileExtension(format models.AudioFormat) string {
	switch ContentType(format) {
	case "audio/wav":
		return "wav"
	case "audio/webm":
		return "webm"
	case "audio/mp4":
		return "mp4"
	default:
		return "bin"
	}
}

// Assemble junta os chunks (ordenados por sequência) num único payload.
// PCM cru recebe header WAV para que o colaborador consiga decodificar.
func Assemble(chunks []models.AudioChunk) ([]byte, string) {
	if len(chunks) == 0 {
		return nil, "application/octet-stream"
	}

	ordered := make([]models.AudioChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})

	format := ordered[0].Format
	size := 0
	for _, c := range ordered {
		size += len(c.Payload)
	}

	data := make([]byte, 0, size+44)
	if ContentType(format) == "audio/wav" {
		data = append(data, WAVHeader(size, format.SampleRate, format.Channels)...)
	}
	for _, c := range ordered {
		data = append(data, c.Payload...)
	}

	return data, ContentType(format)
}

// WAVHeader monta o header de 44 bytes de um WAV PCM 16-bit
func WAVHeader(dataSize, sampleRate, channels int) []byte {
	header := make([]byte, 44)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(header[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(header[34:36], 16)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	return header
}

// ParseWAV lê o header canônico de 44 bytes e devolve formato e PCM
func ParseWAV(data []byte) (models.AudioFormat, []byte, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return models.AudioFormat{}, nil, ErrNotWAV
	}

	if binary.LittleEndian.Uint16(data[20:22]) != 1 || binary.LittleEndian.Uint16(data[34:36]) != 16 {
		return models.AudioFormat{}, nil, fmt.Errorf("%w: only 16-bit PCM is supported", ErrNotWAV)
	}

	format := models.AudioFormat{
		Encoding:   "pcm_s16le",
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
	}

	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if size > len(data)-44 {
		size = len(data) - 44
	}

	return format, data[44 : 44+size], nil
}

// IsPCM16kHzMono verifica se o áudio já está no formato esperado pelo colaborador
func IsPCM16kHzMono(data []byte) bool {
	format, _, err := ParseWAV(data)
	if err != nil {
		return false
	}
	return format.SampleRate == 16000 && format.Channels == 1
}

// ToSamples converte PCM 16-bit little-endian para float32 [-1.0, 1.0]
func ToSamples(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// RMS devolve o nível de amplitude em [0,1] para visualização
func RMS(pcm []byte) float64 {
	samples := ToSamples(pcm)
	if len(samples) == 0 {
		return 0
	}
	return rms(samples)
}

// Bands divide o PCM em n faixas consecutivas e devolve o RMS de cada uma
func Bands(pcm []byte, n int) []float64 {
	if n <= 0 {
		return nil
	}
	levels := make([]float64, n)
	samples := ToSamples(pcm)
	if len(samples) == 0 {
		return levels
	}

	per := len(samples) / n
	if per == 0 {
		per = 1
	}
	for i := 0; i < n; i++ {
		start := i * per
		if start >= len(samples) {
			break
		}
		end := start + per
		if i == n-1 || end > len(samples) {
			end = len(samples)
		}
		levels[i] = rms(samples[start:end])
	}
	return levels
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	v := math.Sqrt(sum / float64(len(samples)))
	if v > 1 {
		return 1
	}
	return v
}
