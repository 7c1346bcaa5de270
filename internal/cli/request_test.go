package cli

import (
	"reflect"
	"testing"
	"time"

	"github.com/winguard/winguard/internal/models"
)

func TestCommandArgv(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{"argv after dash", []string{"dism", "/Online", "/Cleanup-Image"}, []string{"dism", "/Online", "/Cleanup-Image"}, false},
		{"single word", []string{"ipconfig"}, []string{"ipconfig"}, false},
		{"quoted line", []string{`sc config "My Service" start= disabled`}, []string{"sc", "config", "My Service", "start=", "disabled"}, false},
		{"pipe rejected", []string{"tasklist | findstr chrome"}, nil, true},
		{"chain rejected", []string{"del a.txt && del b.txt"}, nil, true},
		{"empty", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := commandArgv(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("commandArgv = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistryFlags_Request(t *testing.T) {
	f := registryFlags{value: "AllowTelemetry", data: "0", typ: "dword", backup: "required"}

	add, err := f.request(models.RegistryAdd, `HKLM\SOFTWARE\Policies\X`)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if add.ValueType != models.RegDWORD || add.Backup != models.BackupRequired {
		t.Errorf("add request = %+v", add)
	}

	q, err := f.request(models.RegistryQuery, `HKLM\SOFTWARE\Policies\X`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if q.ValueType != "" || q.Backup != "" {
		t.Errorf("query should carry no type or backup: %+v", q)
	}

	if _, err := (registryFlags{typ: "REG_BINARY"}).request(models.RegistryAdd, `HKCU\X`); err == nil {
		t.Error("REG_BINARY should be rejected")
	}
	if _, err := (registryFlags{backup: "sometimes"}).request(models.RegistryDelete, `HKCU\X`); err == nil {
		t.Error("unknown backup mode should be rejected")
	}
	if _, err := f.request(models.RegistryDelete, "  "); err == nil {
		t.Error("empty key should be rejected")
	}
}

func TestParseRequest(t *testing.T) {
	reg := registryFlags{backup: "best-effort"}
	tests := []struct {
		name    string
		args    []string
		want    models.MutationRequest
		wantErr bool
	}{
		{
			name: "exec",
			args: []string{"exec", "sfc", "/scannow"},
			want: models.CommandRequest{Argv: []string{"sfc", "/scannow"}, Timeout: time.Minute},
		},
		{
			name: "reg delete",
			args: []string{"reg", "DELETE", `HKCU\Software\Old`},
			want: models.RegistryRequest{Operation: models.RegistryDelete, KeyPath: `HKCU\Software\Old`, Backup: models.BackupBestEffort},
		},
		{
			name: "svc",
			args: []string{"svc", "stop", "Spooler"},
			want: models.ServiceRequest{Action: models.ServiceStop, ServiceID: "Spooler"},
		},
		{
			name: "clean default pattern",
			args: []string{"clean", `C:\Windows\Temp`},
			want: models.BulkDeleteRequest{RootPath: `C:\Windows\Temp`},
		},
		{
			name: "clean with pattern",
			args: []string{"clean", `C:\Windows\Temp`, "*.log"},
			want: models.BulkDeleteRequest{RootPath: `C:\Windows\Temp`, NamePattern: "*.log"},
		},
		{name: "no kind", args: nil, wantErr: true},
		{name: "unknown kind", args: []string{"format", "C:"}, wantErr: true},
		{name: "bad reg op", args: []string{"reg", "rename", `HKCU\X`}, wantErr: true},
		{name: "bad svc action", args: []string{"svc", "pause", "Spooler"}, wantErr: true},
		{name: "svc missing name", args: []string{"svc", "stop"}, wantErr: true},
		{name: "clean too many", args: []string{"clean", "a", "b", "c"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRequest(tt.args, reg, time.Minute)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseRequest = %#v, want %#v", got, tt.want)
			}
		})
	}
}
