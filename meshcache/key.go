// Package meshcache keeps generated meshes in memory, joins concurrent requests for the same
// mesh, and drops entries when the voxels under them change or memory runs short.
package meshcache

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/mikerobots/cube-builder/voxel"
)

// Key identifies a mesh by everything it was generated from.
type Key uint64

// NewKey digests an occupancy fingerprint, the resolution, the level of detail and a hash of the
// remaining generation settings.
func NewKey(fingerprint uint64, res voxel.Resolution, lod int, settingsHash uint64) Key {
	var buf [8 * 4]byte
	binary.LittleEndian.PutUint64(buf[0:], fingerprint)
	binary.LittleEndian.PutUint64(buf[8:], uint64(res))
	binary.LittleEndian.PutUint64(buf[16:], uint64(int64(lod)))
	binary.LittleEndian.PutUint64(buf[24:], settingsHash)
	return Key(xxhash.Sum64(buf[:]))
}

// With derives a key for a related entry, such as one chunk of a mesh.
func (k Key) With(tag uint64) Key {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(k))
	binary.LittleEndian.PutUint64(buf[8:], tag)
	return Key(xxhash.Sum64(buf[:]))
}

func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}
