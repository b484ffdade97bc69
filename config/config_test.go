// Copyright (c) 2024 The Fetchd Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

// These tests verify that we can properly configure the orchestrator with
// YAML input.
import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// a valid minimal config
const validConfig string = `
SERVICE_PORT: 8080
DOWNLOAD_DIR: /tmp/fetchd
DOWNLOAD_LIMIT: 3
UPLOAD_LIMIT: 3
LEECH_SPLIT_SIZE: 2097152000
DEFAULT_UPLOAD: gd
OWNER_ID: 12345
AUTH_CHATS: [100, 200]
DAEMONS:
  qbit:
    url: http://localhost:8090
    username: admin
    password: adminadmin
`

// tests whether a valid config is accepted and copied into the globals
func TestInitAcceptsValidInput(t *testing.T) {
	err := Init([]byte(validConfig))
	assert.Nil(t, err, "Valid config triggered an error.")
	assert.Equal(t, 8080, Service.Port)
	assert.Equal(t, "/tmp/fetchd", Service.DownloadDir)
	assert.Equal(t, 3, Queue.DownloadLimit)
	assert.Equal(t, int64(12345), Chats.OwnerId)
	assert.Equal(t, []int64{100, 200}, Chats.AuthChats)
	assert.Equal(t, "http://localhost:8090", Daemons["qbit"].URL)
}

// tests that defaults are applied when keys are omitted
func TestInitAppliesDefaults(t *testing.T) {
	err := Init([]byte("DOWNLOAD_DIR: /tmp/fetchd\n"))
	assert.Nil(t, err)
	assert.Equal(t, 8080, Service.Port)
	assert.Equal(t, 15, Service.StatusInterval)
	assert.Equal(t, 10, Service.StatusLimit)
	assert.Equal(t, "gd", Upload.DefaultUpload)
	assert.Equal(t, int64(2*1024*1024*1024), Upload.LeechSplitSize)
	assert.Equal(t, 600, Rss.Delay)
	assert.Equal(t, 60, Timeouts.Selection)
}

// tests whether config.Init reports an error for an invalid port
func TestInitRejectsBadPort(t *testing.T) {
	yaml := "SERVICE_PORT: -1\nDOWNLOAD_DIR: /tmp/fetchd\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
	yaml = "SERVICE_PORT: 1000000\nDOWNLOAD_DIR: /tmp/fetchd\n"
	err = Init([]byte(yaml))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

// tests whether config.Init rejects negative queue limits
func TestInitRejectsNegativeLimits(t *testing.T) {
	yaml := "DOWNLOAD_DIR: /tmp/fetchd\nDOWNLOAD_LIMIT: -2\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Negative DOWNLOAD_LIMIT didn't trigger an error.")
}

// tests whether config.Init rejects an unknown default destination
func TestInitRejectsBadDefaultUpload(t *testing.T) {
	yaml := "DOWNLOAD_DIR: /tmp/fetchd\nDEFAULT_UPLOAD: ftp\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Bad DEFAULT_UPLOAD didn't trigger an error.")
}

// tests whether daemon entries lacking a usable URL are rejected
func TestInitRejectsBadDaemon(t *testing.T) {
	yaml := "DOWNLOAD_DIR: /tmp/fetchd\nDAEMONS:\n  sab:\n    api_key: abc\n"
	err := Init([]byte(yaml))
	assert.NotNil(t, err, "Daemon without URL didn't trigger an error.")
}

// tests that ${ENV_VAR} references are expanded before parsing
func TestInitExpandsEnvironment(t *testing.T) {
	os.Setenv("FETCHD_TEST_DIR", "/tmp/fetchd-env")
	defer os.Unsetenv("FETCHD_TEST_DIR")
	err := Init([]byte("DOWNLOAD_DIR: ${FETCHD_TEST_DIR}\n"))
	assert.Nil(t, err)
	assert.Equal(t, "/tmp/fetchd-env", Service.DownloadDir)
}
