package policy

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/winguard/winguard/internal/models"
)

// Built-in deny-lists. Entries are stored lower-cased; configuration may only
// add to them.
var (
	defaultDangerousFragments = []string{
		"format",
		`del /f /s /q c:\`,
		`rd /s /q c:\`,
		"reg delete hklm",
		"diskpart",
		"bcdedit /delete",
		// PowerShell
		`remove-item -recurse c:\`,
		"format-volume",
		"clear-disk",
		"remove-partition",
	}

	defaultCriticalRegistryKeys = []string{
		`hklm\system\currentcontrolset\control\session manager`,
		`hklm\system\currentcontrolset\services\tcpip`,
		`hklm\software\microsoft\windows nt\currentversion\winlogon`,
	}

	defaultCriticalServices = []string{
		"cryptsvc",
		"winmgmt",
		"trustedinstaller",
		"bits",
	}

	defaultCriticalPaths = []string{
		"system32",
		"syswow64",
		"program files",
		`windows\system`,
	}

	// path substrings that lift the filesystem and protected-file checks
	carveOuts = []string{"temp", "cache"}

	protectedExtensions = []string{".sys", ".dll", ".exe"}

	// maintenance tools the gate expects to run; anything else is logged
	knownExecutables = []string{
		"powershell", "pwsh", "cmd", "powercfg", "sc", "schtasks",
		"netsh", "reg", "wmic", "ipconfig", "sfc", "dism",
		"chkdsk", "cleanmgr", "defrag", "taskkill", "tasklist",
		"vssadmin", "fsutil", "compact", "nvidia-settings",
		"radeonsettings", "net", "del", "ren", "start",
	}
)

// DefaultLists returns a copy of the built-in deny-lists
func DefaultLists() models.DenyLists {
	return models.DenyLists{
		DangerousFragments:   append([]string(nil), defaultDangerousFragments...),
		CriticalRegistryKeys: append([]string(nil), defaultCriticalRegistryKeys...),
		CriticalServices:     append([]string(nil), defaultCriticalServices...),
		CriticalPaths:        append([]string(nil), defaultCriticalPaths...),
	}
}

// mergeLists unions extra into base; entries are normalized for matching.
func mergeLists(base, extra models.DenyLists) models.DenyLists {
	return models.DenyLists{
		DangerousFragments:   union(base.DangerousFragments, extra.DangerousFragments, strings.ToLower),
		CriticalRegistryKeys: union(base.CriticalRegistryKeys, extra.CriticalRegistryKeys, CanonicalRegistryKey),
		CriticalServices:     union(base.CriticalServices, extra.CriticalServices, strings.ToLower),
		CriticalPaths:        union(base.CriticalPaths, extra.CriticalPaths, normalizePath),
	}
}

func union(base, extra []string, norm func(string) string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			s = norm(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

var hiveAliases = []struct{ long, short string }{
	{"hkey_local_machine", "hklm"},
	{"hkey_current_user", "hkcu"},
	{"hkey_classes_root", "hkcr"},
	{"hkey_users", "hku"},
	{"hkey_current_config", "hkcc"},
}

// CanonicalRegistryKey lower-cases a key path, folds long hive names to their
// short form, turns / into \ and collapses repeated or trailing separators.
func CanonicalRegistryKey(path string) string {
	p := strings.ToLower(strings.TrimSpace(path))
	p = strings.ReplaceAll(p, "/", `\`)
	for strings.Contains(p, `\\`) {
		p = strings.ReplaceAll(p, `\\`, `\`)
	}
	p = strings.TrimSuffix(p, `\`)
	for _, h := range hiveAliases {
		if p == h.long || strings.HasPrefix(p, h.long+`\`) {
			p = h.short + p[len(h.long):]
			break
		}
	}
	return p
}

// normalizePath lower-cases, uses \ as the only separator and resolves . and
// .. segments, so `temp\..\system32` is checked as `system32`.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = path.Clean(strings.ReplaceAll(strings.ToLower(p), `\`, "/"))
	return strings.ReplaceAll(p, "/", `\`)
}

func hasCarveOut(normalized string) bool {
	for _, c := range carveOuts {
		if strings.Contains(normalized, c) {
			return true
		}
	}
	return false
}

// IsDangerousCommand reports whether the space-joined argv contains a
// destructive fragment. Case-insensitive substring match.
func (s *Store) IsDangerousCommand(argv []string) bool {
	_, ok := s.dangerousFragment(argv)
	return ok
}

func (s *Store) dangerousFragment(argv []string) (string, bool) {
	line := strings.ToLower(strings.Join(argv, " "))
	for _, f := range s.lists.DangerousFragments {
		if strings.Contains(line, f) {
			return f, true
		}
	}
	return "", false
}

// IsCriticalRegistryKey reports whether path lies under a protected key.
func (s *Store) IsCriticalRegistryKey(path string) bool {
	_, ok := s.criticalKey(path)
	return ok
}

func (s *Store) criticalKey(path string) (string, bool) {
	p := CanonicalRegistryKey(path)
	if p == "" {
		return "", false
	}
	for _, k := range s.lists.CriticalRegistryKeys {
		if strings.Contains(p, k) {
			return k, true
		}
	}
	return "", false
}

// IsCriticalService matches service IDs case-insensitively
func (s *Store) IsCriticalService(id string) bool {
	id = strings.TrimSpace(id)
	for _, c := range s.lists.CriticalServices {
		if strings.EqualFold(id, c) {
			return true
		}
	}
	return false
}

// IsCriticalFilesystemArea reports whether path touches a system area.
// Paths containing "temp" or "cache" are exempt.
func (s *Store) IsCriticalFilesystemArea(path string) bool {
	_, ok := s.criticalArea(path)
	return ok
}

func (s *Store) criticalArea(path string) (string, bool) {
	p := normalizePath(path)
	if hasCarveOut(p) {
		return "", false
	}
	for _, c := range s.lists.CriticalPaths {
		if strings.Contains(p, c) {
			return c, true
		}
	}
	return "", false
}

// IsProtectedFile is the per-file check used during deletion: executables
// and drivers outside temp/cache locations.
func (s *Store) IsProtectedFile(path string) bool {
	p := normalizePath(path)
	if hasCarveOut(p) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(p, `\`, "/")))
	for _, e := range protectedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsKnownExecutable reports whether argv0 names a recognised maintenance tool
func IsKnownExecutable(argv0 string) bool {
	name := executableName(argv0)
	for _, k := range knownExecutables {
		if name == k {
			return true
		}
	}
	return false
}
