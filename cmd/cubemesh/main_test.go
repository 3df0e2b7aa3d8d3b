package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/mikerobots/cube-builder/logging"
	"github.com/mikerobots/cube-builder/voxel"
	"github.com/mikerobots/cube-builder/workspace"
)

func TestShapes(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dm, err := workspace.NewDataManager(logger)
	test.That(t, err, test.ShouldBeNil)
	defer dm.Close()

	n, err := boxShape{lo: [3]int{0, 0, 0}, hi: [3]int{2, 3, 4}}.fill(dm, voxel.Size2cm)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 60)

	n, err = sphereShape{center: [3]int{10, 10, 10}, radius: 1}.fill(dm, voxel.Size1cm)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 7)
	test.That(t, dm.Count(voxel.Size1cm), test.ShouldEqual, 7)

	_, err = sphereShape{center: [3]int{0, 0, 0}, radius: 2}.fill(dm, voxel.Size1cm)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestApp(t *testing.T) {
	dir := t.TempDir()
	glb := filepath.Join(dir, "box.glb")
	dump := filepath.Join(dir, "box.vox")

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		err := newApp(&out).Run(append([]string{"cubemesh"}, args...))
		return out.String(), err
	}

	t.Run("box", func(t *testing.T) {
		out, err := run("box", "--min", "1,1,1", "--max", "4,4,4", "--out", glb, "--dump", dump)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "192 triangles, 0 boundary edges")
		test.That(t, out, test.ShouldContainSubstring, "wrote "+glb)

		data, err := os.ReadFile(glb)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(data[:4]), test.ShouldEqual, "glTF")
	})

	t.Run("info", func(t *testing.T) {
		out, err := run("info", "--in", dump)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "resolution: 1cm")
		test.That(t, out, test.ShouldContainSubstring, "voxels:     64")
	})

	t.Run("mesh a dump", func(t *testing.T) {
		out, err := run("mesh", "--in", dump, "--lod", "1", "--chunk-size", "8")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "0 boundary edges")
	})

	t.Run("trace", func(t *testing.T) {
		out, err := run("--trace", "box1", "box", "--max", "2,2,2")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "boundary edges")
	})

	t.Run("sphere preview", func(t *testing.T) {
		out, err := run("sphere", "--center", "20,20,20", "--radius", "6", "--resolution", "2cm", "--preset", "preview")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldContainSubstring, "0 boundary edges")
	})

	t.Run("smoothed previews", func(t *testing.T) {
		for _, preset := range []string{"fast-preview", "balanced-preview", "high-quality-preview"} {
			out, err := run("box", "--max", "3,3,3", "--preset", preset, "--smoothing", "5")
			test.That(t, err, test.ShouldBeNil)
			test.That(t, out, test.ShouldContainSubstring, "0 boundary edges")
		}

		_, err := run("box", "--max", "3,3,3", "--smoothing", "-1")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := run("box", "--max", "1,2")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "three values")

		_, err = run("box", "--max", "1,1,1", "--preset", "fancy")
		test.That(t, err, test.ShouldNotBeNil)

		_, err = run("box", "--max", "1,1,1", "--resolution", "3cm")
		test.That(t, err, test.ShouldNotBeNil)

		_, err = run("info", "--in", filepath.Join(dir, "missing.vox"))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("config file", func(t *testing.T) {
		cfg := filepath.Join(dir, "cube.json")
		test.That(t, os.WriteFile(cfg, []byte(`{"surface": {"lod": 9}}`), 0o600), test.ShouldBeNil)
		_, err := run("--config", cfg, "box", "--max", "1,1,1")
		test.That(t, err, test.ShouldNotBeNil)
	})
}
