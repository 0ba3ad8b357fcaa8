package pe

import "context"

// Content is the decoded form of a data directory.
type Content interface {
	Kind() DirectoryKind
	Location() Location
}

// DataContent is untyped directory content: the directory's coordinates
// and a way to read its bytes. Typed content embeds it.
type DataContent struct {
	img *Image
	dir DataDirectory
	loc Location
}

func newDataContent(img *Image, dir DataDirectory, loc Location) DataContent {
	return DataContent{img: img, dir: dir, loc: loc}
}

// Kind returns the directory kind.
func (c *DataContent) Kind() DirectoryKind {
	return c.dir.Kind
}

// Directory returns the optional header slot the content came from.
func (c *DataContent) Directory() DataDirectory {
	return c.dir
}

// Location returns the directory's coordinates.
func (c *DataContent) Location() Location {
	return c.loc
}

// Bytes reads the directory bytes.
func (c *DataContent) Bytes() ([]byte, error) {
	return c.img.src.Bytes(int64(c.loc.FileOffset), int(c.loc.Size))
}

// BytesContext reads the directory bytes, honouring ctx.
func (c *DataContent) BytesContext(ctx context.Context) ([]byte, error) {
	return c.img.src.ReadContext(ctx, int64(c.loc.FileOffset), int(c.loc.Size))
}
