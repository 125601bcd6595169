/*
Package bloom implements the rotational bloom filter that answers "have we
ever enqueued this URL" for the crawler in O(1) with bounded memory.

Two bit arrays are kept: hot and cold. Adds always write to hot; lookups
check hot then cold. Once hot has absorbed m/2 insertions it is rotated into
cold (the previous cold generation is forgotten) and a fresh hot array takes
its place. A URL added since the last two rotations is therefore never
reported absent, while URLs from very old campaigns eventually age out,
keeping the false-positive rate bounded over arbitrarily long crawls.
*/
package bloom

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Filter is a two-generation bloom filter. All methods are safe for
// concurrent use; AddIfAbsent exists so the lookup-then-add the DB writer
// performs is a single critical section.
type Filter struct {
	mu sync.Mutex

	bits   uint64 // m, number of bits per generation
	hashes int    // k

	hot  []byte
	cold []byte

	insertCount     uint64
	rotateThreshold uint64

	hotPath  string
	coldPath string
}

// New creates a Filter with m bits and k hash functions, checkpointing to
// hotPath and coldPath. The rotate threshold is m/2 insertions.
func New(m uint64, k int, hotPath, coldPath string) *Filter {
	return &Filter{
		bits:            m,
		hashes:          k,
		hot:             make([]byte, (m+7)/8),
		cold:            make([]byte, (m+7)/8),
		rotateThreshold: m / 2,
		hotPath:         hotPath,
		coldPath:        coldPath,
	}
}

// indexes derives the k bit positions for s using 64-bit FNV-1a double
// hashing: position_i = h1 + i*h2 (mod m).
func (f *Filter) indexes(s string, out []uint64) {
	h := fnv.New64a()
	h.Write([]byte(s))
	h1 := h.Sum64()
	h.Write([]byte{0xff})
	h2 := h.Sum64() | 1 // force odd so the stride covers the table

	for i := 0; i < f.hashes; i++ {
		out[i] = (h1 + uint64(i)*h2) % f.bits
	}
}

func setBit(arr []byte, pos uint64) { arr[pos/8] |= 1 << (pos % 8) }
func getBit(arr []byte, pos uint64) bool {
	return arr[pos/8]&(1<<(pos%8)) != 0
}

// Add records s in the hot generation, rotating if the insertion threshold
// is reached. Adding the same string twice is harmless.
func (f *Filter) Add(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(s)
}

func (f *Filter) add(s string) {
	idx := make([]uint64, f.hashes)
	f.indexes(s, idx)
	for _, pos := range idx {
		setBit(f.hot, pos)
	}
	f.insertCount++
	if f.insertCount >= f.rotateThreshold {
		f.rotate()
	}
}

// Contains reports whether s has probably been added. False positives occur
// at a rate governed by m and k; false negatives only for strings older than
// two rotations.
func (f *Filter) Contains(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contains(s)
}

func (f *Filter) contains(s string) bool {
	idx := make([]uint64, f.hashes)
	f.indexes(s, idx)
	inHot := true
	for _, pos := range idx {
		if !getBit(f.hot, pos) {
			inHot = false
			break
		}
	}
	if inHot {
		return true
	}
	for _, pos := range idx {
		if !getBit(f.cold, pos) {
			return false
		}
	}
	return true
}

// AddIfAbsent adds s unless it is already present, returning true when s was
// new. Lookup and add happen under one lock acquisition, so two writers can
// never both see "absent" for the same string.
func (f *Filter) AddIfAbsent(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contains(s) {
		return false
	}
	f.add(s)
	return true
}

// rotate discards the cold generation, demotes hot to cold, and resets the
// insertion counter. Caller holds f.mu.
func (f *Filter) rotate() {
	log.Infof("Rotating bloom filter generations (hot -> cold) after %v insertions", f.insertCount)
	f.cold = f.hot
	f.hot = make([]byte, (f.bits+7)/8)
	f.insertCount = 0
}

// InsertCount returns the number of insertions into the current hot
// generation.
func (f *Filter) InsertCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertCount
}

// Checkpoint file layout: an 8-byte magic, m, k and the insertion count,
// followed by the raw bit array. Both generations are written to temp files
// and renamed so a crash mid-checkpoint never leaves a torn file.

var fileMagic = [8]byte{'V', 'G', 'B', 'L', 'O', 'O', 'M', '1'}

// Checkpoint persists both generations atomically.
func (f *Filter) Checkpoint() error {
	f.mu.Lock()
	hot := make([]byte, len(f.hot))
	copy(hot, f.hot)
	cold := make([]byte, len(f.cold))
	copy(cold, f.cold)
	count := f.insertCount
	f.mu.Unlock()

	if err := writeArray(f.hotPath, f.bits, f.hashes, count, hot); err != nil {
		return fmt.Errorf("bloom checkpoint (hot): %v", err)
	}
	if err := writeArray(f.coldPath, f.bits, f.hashes, 0, cold); err != nil {
		return fmt.Errorf("bloom checkpoint (cold): %v", err)
	}
	return nil
}

// Restore reloads both generations from their checkpoint files. A missing or
// corrupt file leaves that generation empty rather than failing the startup;
// the filter simply forgets and re-learns.
func (f *Filter) Restore() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if arr, count, err := readArray(f.hotPath, f.bits, f.hashes); err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("Could not restore hot bloom array, starting empty: %v", err)
		}
	} else {
		f.hot = arr
		f.insertCount = count
	}

	if arr, _, err := readArray(f.coldPath, f.bits, f.hashes); err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("Could not restore cold bloom array, starting empty: %v", err)
		}
	} else {
		f.cold = arr
	}
}

func writeArray(path string, m uint64, k int, count uint64, arr []byte) error {
	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return err
	}

	header := make([]byte, 32)
	copy(header, fileMagic[:])
	binary.LittleEndian.PutUint64(header[8:], m)
	binary.LittleEndian.PutUint64(header[16:], uint64(k))
	binary.LittleEndian.PutUint64(header[24:], count)

	if _, err = fh.Write(header); err == nil {
		_, err = fh.Write(arr)
	}
	if cerr := fh.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readArray(path string, m uint64, k int) ([]byte, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 32 {
		return nil, 0, fmt.Errorf("checkpoint %v truncated", path)
	}
	if string(data[:8]) != string(fileMagic[:]) {
		return nil, 0, fmt.Errorf("checkpoint %v has bad magic", path)
	}
	gotM := binary.LittleEndian.Uint64(data[8:])
	gotK := binary.LittleEndian.Uint64(data[16:])
	if gotM != m || int(gotK) != k {
		return nil, 0, fmt.Errorf("checkpoint %v sized m=%v k=%v, want m=%v k=%v", path, gotM, gotK, m, k)
	}
	count := binary.LittleEndian.Uint64(data[24:])
	arr := data[32:]
	if uint64(len(arr)) != (m+7)/8 {
		return nil, 0, fmt.Errorf("checkpoint %v bit array truncated", path)
	}
	return arr, count, nil
}
