package basic

// BlockFile represents a file that can be read and written in blocks/pages
type BlockFile interface {
	ReadPage(pageNo uint32) ([]byte, error)
	WritePage(pageNo uint32, content []byte) error
}
