package pkgmeta

// Identity is the immutable description of a package.
type Identity struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	License     string `yaml:"license"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

// FullName returns "<name>-<version>", the usual release archive stem.
func (i Identity) FullName() string {
	return i.Name + "-" + i.Version
}

// Ref returns "<name>/<version>".
func (i Identity) Ref() string {
	return i.Name + "/" + i.Version
}

// CppInfo is what a package declares to the packages linking against it.
// Directories are relative to the package root.
type CppInfo struct {
	IncludeDirs     []string `yaml:"includedirs"`
	LibDirs         []string `yaml:"libdirs"`
	BinDirs         []string `yaml:"bindirs"`
	Libs            []string `yaml:"libs"`
	Defines         []string `yaml:"defines,omitempty"`
	SharedLinkFlags []string `yaml:"sharedlinkflags,omitempty"`
	ExeLinkFlags    []string `yaml:"exelinkflags,omitempty"`
}

// DefaultCppInfo returns the standard install-prefix layout with no libraries declared.
func DefaultCppInfo() *CppInfo {
	return &CppInfo{
		IncludeDirs: []string{"include"},
		LibDirs:     []string{"lib"},
		BinDirs:     []string{"bin"},
	}
}
