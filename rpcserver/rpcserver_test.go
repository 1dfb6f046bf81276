package rpcserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/nanoncore/notch/apierrors"
	"github.com/nanoncore/notch/controller"
	"github.com/nanoncore/notch/credentials"
	"github.com/nanoncore/notch/device"
	"github.com/nanoncore/notch/registry"
)

const fakeDeviceType = "rpcserver-test-fake"

type fakeDriver struct{}

func (f *fakeDriver) Connect(addresses []string, connectMethod string, cred device.Credential) error {
	return nil
}
func (f *fakeDriver) Disconnect() error                       { return nil }
func (f *fakeDriver) Command(cmd string) (string, error)      { return "ok:" + cmd, nil }
func (f *fakeDriver) GetConfig(string) (string, error)        { return "", apierrors.NotImplemented("get_config") }
func (f *fakeDriver) SetConfig(string, string) error          { return apierrors.NotImplemented("set_config") }
func (f *fakeDriver) CopyFile(string, string, bool) error     { return apierrors.NotImplemented("copy_file") }
func (f *fakeDriver) UploadFile(string, string, bool) error   { return apierrors.NotImplemented("upload_file") }
func (f *fakeDriver) DownloadFile(string, string, bool) error { return apierrors.NotImplemented("download_file") }
func (f *fakeDriver) DeleteFile(string) error                 { return apierrors.NotImplemented("delete_file") }
func (f *fakeDriver) Lock() error                             { return apierrors.NotImplemented("lock") }
func (f *fakeDriver) Unlock() error                           { return apierrors.NotImplemented("unlock") }

var _ device.Driver = (*fakeDriver)(nil)

type stubProvider struct {
	info map[string]device.DeviceInfo
}

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Scan() error  { return nil }
func (s *stubProvider) DeviceInfo(name string) (device.DeviceInfo, bool) {
	info, ok := s.info[name]
	return info, ok
}
func (s *stubProvider) DevicesMatching(re *regexp.Regexp) []string {
	var names []string
	for name := range s.info {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	return names
}

var _ registry.Provider = (*stubProvider)(nil)

func newTestServer(t *testing.T, async bool) *Server {
	t.Helper()
	reg := registry.New()
	reg.AddProvider(1, &stubProvider{info: map[string]device.DeviceInfo{
		"r1.example": {Name: "r1.example", Addresses: []string{"10.0.0.1"}, DeviceType: fakeDeviceType},
	}})
	store, err := credentials.LoadFromYAML([]byte(`
- regexp: ".*"
  username: fred
  password: hunter2
`))
	if err != nil {
		t.Fatalf("LoadFromYAML: %v", err)
	}
	ctrl := controller.New(reg, store, device.DefaultTimeouts())
	ctrl.SetNewDriverForTest(func(info device.DeviceInfo, connectMethod string, timeouts device.Timeouts) (device.Driver, error) {
		return &fakeDriver{}, nil
	})
	return New(ctrl, async, 4)
}

func post(t *testing.T, s *Server, body string) rpcResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, Path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v, body=%s", err, rec.Body.String())
	}
	return resp
}

func TestCommandSync(t *testing.T) {
	s := newTestServer(t, false)
	resp := post(t, s, `{"jsonrpc":"2.0","method":"command","params":{"device_name":"r1.example","command":"show version"},"id":1}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result == nil || resp.Result.(string) == "" {
		t.Fatalf("expected a non-empty base64 result, got %+v", resp.Result)
	}
}

func TestCommandAsync(t *testing.T) {
	s := newTestServer(t, true)
	resp := post(t, s, `{"jsonrpc":"2.0","method":"command","params":{"device_name":"r1.example","command":"show version"},"id":1}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestUnknownDeviceMapsToStableCode(t *testing.T) {
	s := newTestServer(t, false)
	resp := post(t, s, `{"jsonrpc":"2.0","method":"command","params":{"device_name":"nosuch.example","command":"show version"},"id":2}`)
	if resp.Error == nil {
		t.Fatal("expected an error")
	}
	if resp.Error.Code != apierrors.KindNoSuchDevice.Code() {
		t.Fatalf("code = %d, want %d", resp.Error.Code, apierrors.KindNoSuchDevice.Code())
	}
}

func TestDevicesMatching(t *testing.T) {
	s := newTestServer(t, false)
	resp := post(t, s, `{"jsonrpc":"2.0","method":"devices_matching","params":{"regexp":"^r1.*$"},"id":3}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	names, ok := resp.Result.([]interface{})
	if !ok || len(names) != 1 || names[0] != "r1.example" {
		t.Fatalf("result = %+v, want [r1.example]", resp.Result)
	}
}

func TestDevicesInfoUnknownDevice(t *testing.T) {
	s := newTestServer(t, false)
	resp := post(t, s, `{"jsonrpc":"2.0","method":"devices_info","params":{"device_name":"nosuch.example"},"id":4}`)
	if resp.Error == nil {
		t.Fatal("expected an error")
	}
	if resp.Error.Code != apierrors.KindNoSuchDevice.Code() {
		t.Fatalf("code = %d, want %d", resp.Error.Code, apierrors.KindNoSuchDevice.Code())
	}
}

func TestMethodNotPartOfDeviceAPI(t *testing.T) {
	s := newTestServer(t, false)
	resp := post(t, s, `{"jsonrpc":"2.0","method":"not_a_real_method","params":{},"id":5}`)
	if resp.Error == nil {
		t.Fatal("expected an error")
	}
	if resp.Error.Code != apierrors.KindInvalidRequest.Code() {
		t.Fatalf("code = %d, want %d", resp.Error.Code, apierrors.KindInvalidRequest.Code())
	}
}

func TestMalformedJSON(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodPost, Path, bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}
