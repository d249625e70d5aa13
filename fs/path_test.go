package fs_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/FanTuani/tinix/fs"
)

var _ = Describe("NormalizePath", func() {
	It("should keep absolute paths", func() {
		Expect(fs.NormalizePath("/a/b", "/c")).To(Equal("/a/b"))
	})

	It("should resolve relative paths against the cwd", func() {
		Expect(fs.NormalizePath("b", "/a")).To(Equal("/a/b"))
		Expect(fs.NormalizePath("b", "/")).To(Equal("/b"))
	})

	It("should drop empty and dot segments", func() {
		Expect(fs.NormalizePath("a//./b", "/")).To(Equal("/a/b"))
		Expect(fs.NormalizePath(".", "/a")).To(Equal("/a"))
		Expect(fs.NormalizePath("", "/a")).To(Equal("/a"))
	})

	It("should pop a segment on dot-dot", func() {
		Expect(fs.NormalizePath("a/../b", "/c")).
			To(Equal(fs.NormalizePath("b", "/c")))
		Expect(fs.NormalizePath("..", "/a/b")).To(Equal("/a"))
	})

	It("should treat dot-dot at the root as a no-op", func() {
		Expect(fs.NormalizePath("/..", "/a")).To(Equal("/"))
		Expect(fs.NormalizePath("../../..", "/")).To(Equal("/"))
	})
})

var _ = Describe("SplitPath", func() {
	It("should separate the parent and the final component", func() {
		parent, name := fs.SplitPath("/a/b")
		Expect(parent).To(Equal("/a"))
		Expect(name).To(Equal("b"))
	})

	It("should give the root as parent of a top-level name", func() {
		parent, name := fs.SplitPath("/a")
		Expect(parent).To(Equal("/"))
		Expect(name).To(Equal("a"))
	})
})
