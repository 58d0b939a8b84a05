package basic

type FileSystem interface {
	AddTableSpace(ts FileTableSpace)

	GetTableSpaceById(spaceId uint32) FileTableSpace
}

// FileSystemSpace caches open tablespaces by id.
type FileSystemSpace struct {
	FileSystem
	Spaces map[uint32]FileTableSpace
	NOpen  int // number of open tablespace files
}

func NewFileSystem() FileSystem {
	var fileSystem = new(FileSystemSpace)
	fileSystem.Spaces = make(map[uint32]FileTableSpace)
	fileSystem.NOpen = 0
	return fileSystem
}

func (fs *FileSystemSpace) Initialize() {
	//fs.Spaces[0] = storebytes.NewSysTableSpace(fs.cfg)
}

func (fs *FileSystemSpace) AddTableSpace(ts FileTableSpace) {
	fs.Spaces[ts.GetSpaceId()] = ts
}

func (fs *FileSystemSpace) GetTableSpaceById(spaceId uint32) FileTableSpace {
	return fs.Spaces[spaceId]
}
