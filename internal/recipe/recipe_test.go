package recipe

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mpfr-recipe/internal/config"
	"github.com/oshokin/mpfr-recipe/internal/deps"
	"github.com/oshokin/mpfr-recipe/internal/domain/pkgmeta"
	"github.com/oshokin/mpfr-recipe/internal/environ"
	"github.com/oshokin/mpfr-recipe/internal/fetch"
	"github.com/oshokin/mpfr-recipe/internal/host"
	"github.com/oshokin/mpfr-recipe/internal/pathconv"
	"github.com/oshokin/mpfr-recipe/internal/shell"
	"github.com/oshokin/mpfr-recipe/internal/shell/shelltest"
)

var (
	linux64   = pkgmeta.Settings{OS: pkgmeta.OSLinux, Arch: pkgmeta.ArchX86_64}
	windows32 = pkgmeta.Settings{OS: pkgmeta.OSWindows, Arch: pkgmeta.ArchX86}
	windows64 = pkgmeta.Settings{OS: pkgmeta.OSWindows, Arch: pkgmeta.ArchX86_64}
)

type fetchCall struct {
	url, dest string
	opts      fetch.Options
}

type stubFetcher struct {
	calls []fetchCall
}

func (f *stubFetcher) Get(_ context.Context, url, dest string, opts fetch.Options) error {
	f.calls = append(f.calls, fetchCall{url: url, dest: dest, opts: opts})

	return nil
}

// testContext returns a host context building on a Linux machine.
func testContext(settings pkgmeta.Settings, shared bool) (*host.Context, *shelltest.Recorder) {
	rec := &shelltest.Recorder{}

	return &host.Context{
		Identity:      Identity(),
		Settings:      settings,
		Options:       pkgmeta.Options{Shared: shared},
		Machine:       linux64,
		SourceFolder:  "/work/source",
		BuildFolder:   "/work/build",
		PackageFolder: "/work/package/0123abcd",
		PackageID:     "0123abcd",
		Deps: deps.Resolved{
			"gmp": {Name: "gmp", Version: "6.1.2", User: "grif", Channel: "dev", Root: "/opt/gmp"},
		},
		MakeJobs: 4,
		Runner:   rec,
		Fetcher:  &stubFetcher{},
		Env:      environ.New(map[string]string{"PATH": "/usr/bin"}),
	}, rec
}

// windowsMachine switches the context to a Windows build machine with native paths.
func windowsMachine(hc *host.Context) {
	hc.Machine = windows64
	hc.Paths = pathconv.Converter{Windows: true, Subsystem: pathconv.MSYS2}
	hc.SourceFolder = `C:\work\source`
	hc.BuildFolder = `C:\work\build`
	hc.PackageFolder = `C:\work\package\0123abcd`
	hc.Deps["gmp"].Root = `C:\deps\gmp`
}

func TestIdentity(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(linux64, false)
	r := New(hc)

	require.Equal(t, "mpfr-4.0.1", r.FullName())
	require.Equal(t, filepath.Join("/work/source", "mpfr-4.0.1"), r.ConfigureDir())
	require.Equal(t, "LGPL v3", Identity().License)
	require.Equal(t, []string{"gmp/[>=5.0]@grif/dev"}, Metadata().Requires)
}

// TestGMPRoot looks up the dependency named by the GMP requirement.
func TestGMPRoot(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(linux64, false)

	root, err := New(hc).GMPRoot()
	require.NoError(t, err)
	require.Equal(t, "/opt/gmp", root)

	hc.Deps = deps.Resolved{}

	_, err = New(hc).GMPRoot()
	require.ErrorIs(t, err, deps.ErrNotResolved)
}

func TestHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		settings pkgmeta.Settings
		want     string
	}{
		{linux64, "x86_64-linux-gnu"},
		{windows32, "i686-w64-mingw32"},
		{windows64, "x86_64-w64-mingw32"},
		{pkgmeta.Settings{OS: pkgmeta.OSLinux, Arch: pkgmeta.ArchX86}, "x86-linux-gnu"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			hc, _ := testContext(tt.settings, false)

			got, err := New(hc).Host()
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestConfigureArgs_SharedStaticFlags(t *testing.T) {
	t.Parallel()

	for _, shared := range []bool{false, true} {
		hc, _ := testContext(linux64, shared)

		args, err := New(hc).ConfigureArgs()
		require.NoError(t, err)

		var enables, disables []string

		for _, arg := range args {
			switch {
			case strings.HasPrefix(arg, "--enable-shared"), strings.HasPrefix(arg, "--enable-static"):
				enables = append(enables, arg)
			case strings.HasPrefix(arg, "--disable-shared"), strings.HasPrefix(arg, "--disable-static"):
				disables = append(disables, arg)
			}
		}

		require.Len(t, enables, 1)
		require.Len(t, disables, 1)
		require.NotEqual(t, strings.TrimPrefix(enables[0], "--enable-"), strings.TrimPrefix(disables[0], "--disable-"))

		if shared {
			require.Equal(t, "--enable-shared", enables[0])
		} else {
			require.Equal(t, "--enable-static", enables[0])
		}
	}
}

func TestConfigureArgs_Layout(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(linux64, false)

	args, err := New(hc).ConfigureArgs()
	require.NoError(t, err)
	require.Equal(t, []string{
		"--prefix=/work/package/0123abcd",
		"--enable-static",
		"--disable-shared",
		"--with-pic",
		"--with-gmp=/opt/gmp",
	}, args)
}

func TestConfigureArgs_WindowsPaths(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(windows64, true)
	windowsMachine(hc)

	args, err := New(hc).ConfigureArgs()
	require.NoError(t, err)
	require.Contains(t, args, "--prefix=/c/work/package/0123abcd")
	require.Contains(t, args, "--with-gmp=/c/deps/gmp")
}

func TestConfigureArgs_MissingGMP(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(linux64, false)
	hc.Deps = deps.Resolved{}

	_, err := New(hc).ConfigureArgs()
	require.ErrorIs(t, err, deps.ErrNotResolved)
}

func TestConfigureEnvs(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(windows32, false)

	envs, err := New(hc).ConfigureEnvs()
	require.NoError(t, err)
	require.Empty(t, envs)

	windowsMachine(hc)

	envs, err = New(hc).ConfigureEnvs()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"CC": "i686-w64-mingw32-gcc -static-libgcc"}, envs)
}

func TestWSLEnv(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(linux64, false)
	require.Equal(t, map[string]string{
		"WSLENV": "CC/u:CFLAGS/u:LDFLAGS/u:LIBS/u:CPPFLAGS/u:CPP/u:LT_SYS_LIBRARY_PATH/u",
	}, New(hc).WSLEnv())
}

func TestWithGMP_MatchesResolvedRoot(t *testing.T) {
	t.Parallel()

	for _, version := range []string{"5.0.0", "5.1.3", "6.1.2", "6.2.1", "10.0.0"} {
		t.Run(version, func(t *testing.T) {
			t.Parallel()

			root := filepath.Join(t.TempDir(), "gmp-"+version)
			cfg := &config.Config{
				Settings: linux64,
				Folders: config.Folders{
					Source:      "/work/source",
					Build:       "/work/build",
					PackageRoot: "/work/package",
				},
				Dependencies: []deps.Dependency{
					{Name: "gmp", Version: "4.3.2", User: "grif", Channel: "dev", Root: "/opt/gmp-old"},
					{Name: "gmp", Version: version, User: "grif", Channel: "dev", Root: root},
				},
			}

			h, err := host.New(cfg, Metadata(), Factory,
				host.WithRunner(&shelltest.Recorder{}),
				host.WithFetcher(&stubFetcher{}),
				host.WithMachine(linux64),
			)
			require.NoError(t, err)

			hc, err := h.Prepare(context.Background())
			require.NoError(t, err)

			args, err := New(hc).ConfigureArgs()
			require.NoError(t, err)
			require.Contains(t, args, "--with-gmp="+root)
		})
	}
}

func TestSource(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(linux64, false)
	fetcher := &stubFetcher{}
	hc.Fetcher = fetcher

	require.NoError(t, New(hc).Source(context.Background()))
	require.Equal(t, []fetchCall{{
		url:  "https://www.mpfr.org/mpfr-current/mpfr-4.0.1.tar.bz2",
		dest: "/work/source",
	}}, fetcher.calls)

	hc.SourceOverrides = config.Source{
		URL:     "https://mirror.example.org/mpfr-4.0.1.tar.xz",
		SHA256:  strings.Repeat("ab", 32),
		Keyring: "/keys/mpfr.asc",
	}

	require.NoError(t, New(hc).Source(context.Background()))
	require.Equal(t, "https://mirror.example.org/mpfr-4.0.1.tar.xz", fetcher.calls[1].url)
	require.Equal(t, "/keys/mpfr.asc", fetcher.calls[1].opts.Keyring)
	require.Equal(t, strings.Repeat("ab", 32), fetcher.calls[1].opts.SHA256)
}

func TestImports(t *testing.T) {
	t.Parallel()

	hc, _ := testContext(windows64, true)
	gmpRoot := t.TempDir()
	hc.Deps["gmp"].Root = gmpRoot
	hc.BuildFolder = t.TempDir()

	require.NoError(t, New(hc).Imports(context.Background()))

	entries, err := os.ReadDir(hc.BuildFolder)
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, os.MkdirAll(filepath.Join(gmpRoot, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gmpRoot, "bin", "libgmp-10.dll"), []byte("dll"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(gmpRoot, "bin", "gmp.txt"), []byte("doc"), 0o644))

	require.NoError(t, New(hc).Imports(context.Background()))
	require.FileExists(t, filepath.Join(hc.BuildFolder, "libgmp-10.dll"))
	require.NoFileExists(t, filepath.Join(hc.BuildFolder, "gmp.txt"))
}

func TestBuild_Commands(t *testing.T) {
	t.Parallel()

	hc, rec := testContext(linux64, false)

	require.NoError(t, New(hc).Build(context.Background()))
	require.Equal(t, []string{"/work/source/mpfr-4.0.1/configure", "make", "make"}, rec.Programs())

	commands := rec.Commands()
	configure := commands[0]
	require.Contains(t, configure.Args, "--host=x86_64-linux-gnu")
	require.NotContains(t, strings.Join(configure.Args, " "), "--build=")
	require.Equal(t, "/work/build", configure.Dir)

	cppflags, _ := configure.Env.Get("CPPFLAGS")
	require.Equal(t, "-I/opt/gmp/include", cppflags)

	_, hasWSLEnv := configure.Env.Get("WSLENV")
	require.False(t, hasWSLEnv)

	require.Equal(t, []string{"make", "-j4"}, commands[1].Args)
	require.Equal(t, []string{"make", "install", "-j4"}, commands[2].Args)
}

func TestBuild_DlltoolOnlyForWindowsShared(t *testing.T) {
	t.Parallel()

	tests := []struct {
		settings pkgmeta.Settings
		shared   bool
		dlltool  bool
	}{
		{linux64, false, false},
		{linux64, true, false},
		{windows64, false, false},
		{windows64, true, true},
		{windows32, true, true},
	}

	for _, tt := range tests {
		hc, rec := testContext(tt.settings, tt.shared)
		hc.PackageFolder = t.TempDir()

		require.NoError(t, New(hc).Build(context.Background()))

		cmd, found := rec.FindBySuffix("-dlltool")
		require.Equal(t, tt.dlltool, found, "%s shared=%v", tt.settings.OS, tt.shared)

		if !found {
			continue
		}

		hostTriplet, err := New(hc).Host()
		require.NoError(t, err)
		require.Equal(t, []string{
			hostTriplet + "-dlltool",
			"-d", "src/.libs/libmpfr-6.dll.def",
			"-D", "libmpfr-6.dll",
			"-l", filepath.Join(hc.PackageFolder, "lib", "mpfr.lib"),
		}, cmd.Args)
		require.Equal(t, "/work/build", cmd.Dir)
		require.True(t, cmd.WinBash)
		require.DirExists(t, filepath.Join(hc.PackageFolder, "lib"))
	}
}

func TestBuild_WindowsMachineScopesEnvironment(t *testing.T) {
	t.Parallel()

	hc, rec := testContext(windows64, true)
	windowsMachine(hc)
	hc.PackageFolder = filepath.Join(t.TempDir(), "pkg")

	require.NoError(t, New(hc).Build(context.Background()))

	commands := rec.Commands()
	require.Len(t, commands, 4)

	// configure, make, make install
	for _, cmd := range commands[:3] {
		wslenv, ok := cmd.Env.Get("WSLENV")
		require.True(t, ok)
		require.Equal(t, "CC/u:CFLAGS/u:LDFLAGS/u:LIBS/u:CPPFLAGS/u:CPP/u:LT_SYS_LIBRARY_PATH/u", wslenv)
		require.True(t, cmd.WinBash)
	}

	dlltool := commands[3]
	require.Equal(t, "x86_64-w64-mingw32-dlltool", dlltool.Args[0])
	require.True(t, dlltool.WinBash)

	_, dlltoolHasWSLEnv := dlltool.Env.Get("WSLENV")
	require.False(t, dlltoolHasWSLEnv)

	path, _ := dlltool.Env.Get("PATH")
	require.Equal(t, "/usr/bin", path)

	configure := commands[0]
	require.Equal(t, "/c/work/source/mpfr-4.0.1/configure", configure.Args[0])

	cc, _ := configure.Env.Get("CC")
	require.Equal(t, "x86_64-w64-mingw32-gcc -static-libgcc", cc)

	_, hasWSLEnv := hc.Env.Get("WSLENV")
	require.False(t, hasWSLEnv)
}

func TestBuild_CrossBuildAddsBuildTriplet(t *testing.T) {
	t.Parallel()

	hc, rec := testContext(windows64, false)

	require.NoError(t, New(hc).Build(context.Background()))

	configure := rec.Commands()[0]
	require.Contains(t, configure.Args, "--build=x86_64-linux-gnu")
	require.Contains(t, configure.Args, "--host=x86_64-w64-mingw32")
}

func TestBuild_ConfigureFailureStops(t *testing.T) {
	t.Parallel()

	hc, rec := testContext(linux64, false)
	rec.Fail = func(shell.Command) error {
		return os.ErrPermission
	}

	err := New(hc).Build(context.Background())
	require.ErrorIs(t, err, os.ErrPermission)
	require.Len(t, rec.Commands(), 1)
}

func TestPackage_DoesNotTouchFilesystem(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "libmpfr.a"), []byte("a"), 0o644))

	hc, rec := testContext(windows64, true)
	hc.PackageFolder = root
	hc.BuildFolder = root
	hc.SourceFolder = root

	before := snapshot(t, root)

	require.NoError(t, New(hc).Package(context.Background()))
	require.Equal(t, before, snapshot(t, root))
	require.Empty(t, rec.Commands())
}

func TestPackageInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		settings pkgmeta.Settings
		safeSEH  bool
	}{
		{windows32, true},
		{windows64, false},
		{linux64, false},
		{pkgmeta.Settings{OS: pkgmeta.OSLinux, Arch: pkgmeta.ArchX86}, false},
	}

	for _, tt := range tests {
		hc, _ := testContext(tt.settings, true)
		info := pkgmeta.DefaultCppInfo()

		require.NoError(t, New(hc).PackageInfo(context.Background(), info))
		require.Equal(t, []string{"mpfr"}, info.Libs)

		if tt.safeSEH {
			require.Contains(t, info.SharedLinkFlags, "/SAFESEH:NO")
			require.Contains(t, info.ExeLinkFlags, "/SAFESEH:NO")
		} else {
			require.Empty(t, info.SharedLinkFlags)
			require.Empty(t, info.ExeLinkFlags)
		}
	}
}

func TestCreate_EndToEnd(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	gmpRoot := filepath.Join(root, "gmp")
	require.NoError(t, os.MkdirAll(filepath.Join(gmpRoot, "bin"), 0o755))

	cfg := &config.Config{
		Settings: windows32,
		Options:  pkgmeta.Options{Shared: true},
		Folders: config.Folders{
			Source:      filepath.Join(root, "source"),
			Build:       filepath.Join(root, "build"),
			PackageRoot: filepath.Join(root, "package"),
		},
		Dependencies: []deps.Dependency{
			{Name: "gmp", Version: "6.1.2", User: "grif", Channel: "dev", Root: gmpRoot},
		},
		MakeJobs:  2,
		Subsystem: string(pathconv.MSYS2),
	}

	rec := &shelltest.Recorder{}
	fetcher := &stubFetcher{}

	h, err := host.New(cfg, Metadata(), Factory,
		host.WithRunner(rec),
		host.WithFetcher(fetcher),
		host.WithMachine(linux64),
		host.WithEnv(environ.New(nil)),
	)
	require.NoError(t, err)

	result, err := h.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1)

	_, found := rec.FindBySuffix("i686-w64-mingw32-dlltool")
	require.True(t, found)

	manifest, err := host.ReadManifest(result.ManifestPath)
	require.NoError(t, err)
	require.Equal(t, "mpfr", manifest.Name)
	require.Equal(t, "4.0.1", manifest.Version)
	require.Equal(t, []string{"mpfr"}, manifest.CppInfo.Libs)
	require.Equal(t, []string{"/SAFESEH:NO"}, manifest.CppInfo.ExeLinkFlags)
	require.Equal(t, "gmp/6.1.2@grif/dev", manifest.Requires["gmp"])
}

func snapshot(t *testing.T, root string) map[string]int64 {
	t.Helper()

	entries := make(map[string]int64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		entries[path] = info.ModTime().UnixNano() + info.Size()

		return nil
	})
	require.NoError(t, err)

	return entries
}
