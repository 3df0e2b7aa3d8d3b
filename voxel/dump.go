package voxel

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/mikerobots/cube-builder/logging"
)

const (
	dumpMagic   = "CBVG"
	dumpVersion = uint8(1)
)

// dumpHeader precedes the compressed leaf list.
type dumpHeader struct {
	Resolution uint8
	Dims       [3]uint32
	Leaves     uint64
}

// WriteTo writes the grid's occupancy as a zstd-compressed list of octree leaf cubes. It is a
// fixture format for tools and tests, not a project file format.
func (g *Grid) WriteTo(w io.Writer) (int64, error) {
	var body bytes.Buffer
	var leaves uint64
	g.mu.RLock()
	g.tree.VisitLeaves(func(origin [3]int, side int) bool {
		leaves++
		_ = binary.Write(&body, binary.LittleEndian, [4]uint32{
			uint32(origin[0]), uint32(origin[1]), uint32(origin[2]), uint32(side),
		})
		return true
	})
	g.mu.RUnlock()

	var content bytes.Buffer
	hdr := dumpHeader{
		Resolution: uint8(g.resolution),
		Dims:       [3]uint32{uint32(g.dims[0]), uint32(g.dims[1]), uint32(g.dims[2])},
		Leaves:     leaves,
	}
	if err := binary.Write(&content, binary.LittleEndian, hdr); err != nil {
		return 0, err
	}
	_, _ = content.Write(body.Bytes())

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(content.Bytes(), nil)

	var out bytes.Buffer
	out.WriteString(dumpMagic)
	out.WriteByte(dumpVersion)
	_, _ = out.Write(compressed)
	n, err := w.Write(out.Bytes())
	return int64(n), err
}

// ReadGrid restores a grid written by WriteTo. The restored grid has a new ID.
func ReadGrid(r io.Reader, logger logging.Logger, opts ...GridOption) (*Grid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < len(dumpMagic)+1 || string(data[:len(dumpMagic)]) != dumpMagic {
		return nil, errors.New("not a voxel grid dump")
	}
	if v := data[len(dumpMagic)]; v != dumpVersion {
		return nil, errors.Errorf("unsupported voxel grid dump version %d", v)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	content, err := dec.DecodeAll(data[len(dumpMagic)+1:], nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing voxel grid dump")
	}

	body := bytes.NewReader(content)
	var hdr dumpHeader
	if err := binary.Read(body, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "reading voxel grid dump header")
	}
	res := Resolution(hdr.Resolution)
	g, err := NewGrid(res, [3]int{int(hdr.Dims[0]), int(hdr.Dims[1]), int(hdr.Dims[2])}, logger, opts...)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < hdr.Leaves; i++ {
		var leaf [4]uint32
		if err := binary.Read(body, binary.LittleEndian, &leaf); err != nil {
			return nil, errors.Wrapf(err, "reading leaf %d", i)
		}
		side := int(leaf[3])
		lo := NewPosition(int(leaf[0]), int(leaf[1]), int(leaf[2]), res)
		hi := NewPosition(int(leaf[0])+side-1, int(leaf[1])+side-1, int(leaf[2])+side-1, res)
		if _, err := g.Fill(lo, hi, true); err != nil {
			return nil, err
		}
	}
	return g, nil
}
