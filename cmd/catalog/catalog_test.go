/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package catalog

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	pkgcatalog "github.com/openponylogger/go-opl/pkg/catalog"
	"github.com/openponylogger/go-opl/pkg/config"
	"github.com/openponylogger/go-opl/pkg/layers"
	"github.com/openponylogger/go-opl/pkg/writer"
)

func TestIndexListRemove(t *testing.T) {
	dir := t.TempDir()
	opts := writer.DefaultOptions()
	opts.Clock = clock.NewMock()
	w, err := writer.Open(writer.NewFileStorage(dir), "session_00001.opl", writer.Metadata{
		SessionName: "Practice", DriverName: "Sam", StartUS: layers.Epoch2000US + 1,
	}, nil, opts)
	require.NoError(t, err)
	require.NoError(t, w.RecordAccel(0, 0, 1, layers.Epoch2000US+10_000))
	require.NoError(t, w.Close())

	cfg := config.NewDefaultConfig()
	cfg.SetPath(filepath.Join(t.TempDir(), "config"))

	out := &bytes.Buffer{}
	cmd := NewCommand(cfg)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"index", dir})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "Scanned 1 files: 1 indexed, 0 unchanged, 0 failed")

	out.Reset()
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "session_00001.opl")
	require.Contains(t, out.String(), "Practice")

	cmd.SetArgs([]string{"remove", "session_00001.opl"})
	require.NoError(t, cmd.Execute())
	c, err := pkgcatalog.Open(cfg.CatalogPath())
	require.NoError(t, err)
	defer c.Close()
	entries, err := c.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}
