package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winguard/winguard/internal/models"
)

func builtinStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(nil)
	require.NoError(t, err)
	return s
}

func TestIsDangerousCommand(t *testing.T) {
	s := builtinStore(t)
	tests := []struct {
		argv []string
		want bool
	}{
		{[]string{"format", "c:"}, true},
		{[]string{"FORMAT", "C:", "/Q"}, true},
		{[]string{"cmd", "/c", "del", "/f", "/s", "/q", `C:\`}, true},
		{[]string{"cmd", "/c", "RD", "/S", "/Q", `c:\`}, true},
		{[]string{"reg", "delete", `HKLM\Software\Foo`, "/f"}, true},
		{[]string{"diskpart.exe"}, true},
		{[]string{"bcdedit", "/delete", "{current}"}, true},
		{[]string{"powershell", "-Command", "Format-Volume -DriveLetter D"}, true},
		{[]string{"powershell", "-Command", "Clear-Disk -Number 1"}, true},
		{[]string{"powershell", "-Command", `Remove-Item -Recurse C:\`}, true},
		{[]string{"ipconfig", "/flushdns"}, false},
		{[]string{"reg", "delete", `HKCU\Software\Foo`, "/f"}, false},
		{[]string{"sfc", "/scannow"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.IsDangerousCommand(tt.argv), "%q", tt.argv)
	}
}

func TestIsCriticalRegistryKey(t *testing.T) {
	s := builtinStore(t)
	tests := []struct {
		path string
		want bool
	}{
		{`HKLM\SYSTEM\CurrentControlSet\Control\Session Manager`, true},
		{`HKEY_LOCAL_MACHINE\SYSTEM\CurrentControlSet\Control\Session Manager\Memory Management`, true},
		{`hklm/system/currentcontrolset/services/tcpip/parameters`, true},
		{`HKLM\\SYSTEM\\CurrentControlSet\\Services\\Tcpip`, true},
		{`HKLM\SOFTWARE\Microsoft\Windows NT\CurrentVersion\Winlogon\`, true},
		{`HKLM\SOFTWARE\Vendor\App`, false},
		{`HKCU\Control Panel\Desktop`, false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.IsCriticalRegistryKey(tt.path), tt.path)
	}
}

func TestCanonicalRegistryKey(t *testing.T) {
	assert.Equal(t, `hklm\software\x`, CanonicalRegistryKey(`HKEY_LOCAL_MACHINE\SOFTWARE\X`))
	assert.Equal(t, `hkcu\a\b`, CanonicalRegistryKey(`HKEY_CURRENT_USER//a\\b\`))
	assert.Equal(t, `hku`, CanonicalRegistryKey(`HKEY_USERS`))
	// prefix of a longer hive name is not folded
	assert.Equal(t, `hkey_users_x\a`, CanonicalRegistryKey(`HKEY_USERS_X\a`))
}

func TestIsCriticalService(t *testing.T) {
	s := builtinStore(t)
	for _, id := range []string{"CryptSvc", "cryptsvc", "WINMGMT", "TrustedInstaller", "bits", " BITS "} {
		assert.True(t, s.IsCriticalService(id), id)
	}
	for _, id := range []string{"Spooler", "wuauserv", "bitsy", ""} {
		assert.False(t, s.IsCriticalService(id), id)
	}
}

func TestIsCriticalFilesystemArea(t *testing.T) {
	s := builtinStore(t)
	tests := []struct {
		path string
		want bool
	}{
		{`C:\Windows\System32`, true},
		{`c:/windows/system32/drivers`, true},
		{`C:\Windows\SysWOW64`, true},
		{`C:\Program Files\Vendor`, true},
		{`C:\Windows\System`, true},
		{`C:\Windows\System32\temp\x`, false},
		{`C:\Program Files\App\Cache`, false},
		{`C:\Windows\Temp`, false},
		{`C:\Users\me\Downloads`, false},
		{`C:\Windows\Temp\..\System32`, true},
		{`c:/windows/temp/../system32/drivers`, true},
		{`C:\Windows\System32\..\Temp`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.IsCriticalFilesystemArea(tt.path), tt.path)
	}
}

func TestIsProtectedFile(t *testing.T) {
	s := builtinStore(t)
	assert.True(t, s.IsProtectedFile(`D:\data\tool.EXE`))
	assert.True(t, s.IsProtectedFile(`D:/data/lib.dll`))
	assert.True(t, s.IsProtectedFile(`D:\drivers\x.sys`))
	assert.False(t, s.IsProtectedFile(`C:\Windows\Temp\setup.exe`))
	assert.False(t, s.IsProtectedFile(`D:\data\cache\lib.dll`))
	assert.False(t, s.IsProtectedFile(`D:\data\notes.txt`))
}

func TestIsKnownExecutable(t *testing.T) {
	assert.True(t, IsKnownExecutable("ipconfig"))
	assert.True(t, IsKnownExecutable(`C:\Windows\System32\SC.EXE`))
	assert.True(t, IsKnownExecutable("powercfg.exe"))
	assert.False(t, IsKnownExecutable("mystery-tool"))
}

func TestDecide_Builtin(t *testing.T) {
	s := builtinStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      models.MutationRequest
		allowed  bool
		wantRule string
	}{
		{"format blocked", models.NewCommandRequest([]string{"format", "c:"}, 0, false), false, RuleDangerousCommand},
		{"ipconfig allowed", models.NewCommandRequest([]string{"ipconfig"}, 0, true), true, ""},
		{"empty argv", models.NewCommandRequest(nil, 0, false), false, RuleInvalidRequest},
		{"critical delete blocked", models.RegistryRequest{Operation: models.RegistryDelete, KeyPath: `HKLM\SYSTEM\CurrentControlSet\Control\Session Manager`}, false, RuleCriticalRegistry},
		{"critical add allowed", models.RegistryRequest{Operation: models.RegistryAdd, KeyPath: `HKLM\SYSTEM\CurrentControlSet\Control\Session Manager`, ValueName: "X", ValueData: "1"}, true, ""},
		{"critical query allowed", models.RegistryRequest{Operation: models.RegistryQuery, KeyPath: `HKLM\SYSTEM\CurrentControlSet\Services\Tcpip`}, true, ""},
		{"stop critical", models.ServiceRequest{Action: models.ServiceStop, ServiceID: "TrustedInstaller"}, false, RuleCriticalService},
		{"disable critical", models.ServiceRequest{Action: models.ServiceDisable, ServiceID: "bits"}, false, RuleCriticalService},
		{"start critical", models.ServiceRequest{Action: models.ServiceStart, ServiceID: "TrustedInstaller"}, true, ""},
		{"stop other", models.ServiceRequest{Action: models.ServiceStop, ServiceID: "Spooler"}, true, ""},
		{"system32 delete", models.BulkDeleteRequest{RootPath: `C:\Windows\System32`}, false, RuleCriticalFSArea},
		{"temp delete", models.BulkDeleteRequest{RootPath: `C:\Windows\Temp`}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.Decide(ctx, tt.req)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.wantRule, d.Rule)
			if !tt.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestDecide_IsDeterministic(t *testing.T) {
	s := MustNewStore(MustGetPreset("strict"))
	req := models.RegistryRequest{Operation: models.RegistryDelete, KeyPath: `HKLM\SOFTWARE\Vendor`}
	first := s.Decide(context.Background(), req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Decide(context.Background(), req))
	}
}

func TestDecide_OperatorRules(t *testing.T) {
	cfg := &models.PolicyConfig{
		Name: "local",
		Rules: []models.PolicyRule{{
			Name:       "no_spooler",
			Expr:       `input.kind != "service" || input.service.id != "spooler"`,
			FailureMsg: "print spooler is managed by IT",
		}},
	}
	s, err := NewStore(cfg)
	require.NoError(t, err)

	d := s.Decide(context.Background(), models.ServiceRequest{Action: models.ServiceStart, ServiceID: "Spooler"})
	assert.False(t, d.Allowed)
	assert.Equal(t, "no_spooler", d.Rule)
	assert.Equal(t, "print spooler is managed by IT", d.Reason)

	d = s.Decide(context.Background(), models.ServiceRequest{Action: models.ServiceStart, ServiceID: "W32Time"})
	assert.True(t, d.Allowed)
}

func TestDecide_EvalErrorFailsClosed(t *testing.T) {
	cfg := &models.PolicyConfig{
		Rules: []models.PolicyRule{{
			Name: "reads_missing_section",
			Expr: `input.registry.operation != "delete"`,
		}},
	}
	s := MustNewStore(cfg)

	// command requests have no registry section
	d := s.Decide(context.Background(), models.NewCommandRequest([]string{"ipconfig"}, 0, false))
	assert.False(t, d.Allowed)
	assert.Equal(t, "reads_missing_section", d.Rule)
	assert.Contains(t, d.Reason, "CEL evaluation error")
}

func TestDecide_WarnModeDoesNotDenyRules(t *testing.T) {
	cfg := &models.PolicyConfig{
		Mode:  models.PolicyModeWarn,
		Rules: []models.PolicyRule{{Name: "never", Expr: "false", FailureMsg: "nope"}},
	}
	s := MustNewStore(cfg)

	assert.True(t, s.Decide(context.Background(), models.NewCommandRequest([]string{"ipconfig"}, 0, false)).Allowed)
	// built-in lists are still enforced
	assert.False(t, s.Decide(context.Background(), models.NewCommandRequest([]string{"format", "d:"}, 0, false)).Allowed)
}

func TestNewStore_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *models.PolicyConfig
	}{
		{"compile error", &models.PolicyConfig{Rules: []models.PolicyRule{{Name: "bad", Expr: "input.kind =="}}}},
		{"non bool", &models.PolicyConfig{Rules: []models.PolicyRule{{Name: "str", Expr: `"x"`}}}},
		{"unnamed", &models.PolicyConfig{Rules: []models.PolicyRule{{Expr: "true"}}}},
		{"duplicate", &models.PolicyConfig{Rules: []models.PolicyRule{{Name: "a", Expr: "true"}, {Name: "a", Expr: "true"}}}},
		{"bad mode", &models.PolicyConfig{Mode: "lenient"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestExtrasOnlyAdd(t *testing.T) {
	cfg := &models.PolicyConfig{Extra: models.DenyLists{
		CriticalServices:     []string{"Spooler"},
		CriticalRegistryKeys: []string{`HKEY_LOCAL_MACHINE\SOFTWARE\Vendor`},
		CriticalPaths:        []string{`D:/Data`},
		DangerousFragments:   []string{"VSSADMIN DELETE"},
	}}
	s := MustNewStore(cfg)

	assert.True(t, s.IsCriticalService("spooler"))
	assert.True(t, s.IsCriticalService("CryptSvc"))
	assert.True(t, s.IsCriticalRegistryKey(`HKLM\SOFTWARE\Vendor\Sub`))
	assert.True(t, s.IsCriticalFilesystemArea(`d:\data\x`))
	assert.True(t, s.IsDangerousCommand([]string{"vssadmin", "delete", "shadows"}))
	assert.True(t, s.IsDangerousCommand([]string{"format", "c:"}))
}

func TestStrictPreset(t *testing.T) {
	s := MustNewStore(MustGetPreset("strict"))
	ctx := context.Background()

	d := s.Decide(ctx, models.NewCommandRequest([]string{`C:\Windows\System32\cmd.exe`, "/c", "dir"}, 0, false))
	assert.Equal(t, "no_shell_interpreters", d.Rule)

	d = s.Decide(ctx, models.RegistryRequest{Operation: models.RegistryDelete, KeyPath: `HKEY_LOCAL_MACHINE\SOFTWARE\Vendor`})
	assert.Equal(t, "no_hklm_delete", d.Rule)

	d = s.Decide(ctx, models.NewCommandRequest([]string{"dism", "/online"}, 7*time.Hour, false))
	assert.Equal(t, "bounded_timeout", d.Rule)

	assert.True(t, s.Decide(ctx, models.NewCommandRequest([]string{"dism", "/online"}, 2*time.Hour, false)).Allowed)
	assert.True(t, s.IsCriticalService("wuauserv"))
	assert.True(t, s.Decide(ctx, models.RegistryRequest{Operation: models.RegistryDelete, KeyPath: `HKCU\Software\Vendor`}).Allowed)
}

func TestCheck_ReportsAllRules(t *testing.T) {
	cfg := &models.PolicyConfig{Rules: []models.PolicyRule{
		{Name: "a", Expr: "false", FailureMsg: "a failed"},
		{Name: "b", Expr: "true"},
	}}
	s := MustNewStore(cfg)
	d, results := s.Check(models.NewCommandRequest([]string{"ipconfig"}, 0, false))
	assert.False(t, d.Allowed)
	require.Len(t, results, 2)
	assert.False(t, results[0].Passed)
	assert.True(t, results[1].Passed)
}

func TestBuildInput_BulkRootIsCleaned(t *testing.T) {
	input := BuildInput(models.BulkDeleteRequest{RootPath: `C:\Windows\Temp\..\System32`})

	bulk, ok := input["bulk_delete"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, `c:\windows\system32`, bulk["root_path"])
}
