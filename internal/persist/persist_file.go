package persist

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
)

func init() {
	BackendRegistry["file"] = func(dbName string, raw []byte) (Engine, error) {
		var cfg struct {
			BaseDir string `json:"base_dir"`
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, err
			}
		}
		return (&FileFactory{BaseDir: cfg.BaseDir}).CreateDatabase(dbName), nil
	}
}

// FileFactory creates FileBackend engines rooted under BaseDir, mirroring
// the teacher's FileFactory (storage/persistence-files.go).
type FileFactory struct {
	BaseDir string
}

func (f *FileFactory) CreateDatabase(dbName string) Engine {
	return &FileBackend{path: filepath.Join(f.BaseDir, dbName) + string(filepath.Separator)}
}

// FileBackend stores shard bodies as plain files: "<shardID>.body" for the
// compacted body and "<shardID>.tail" for the still-growing appended tail,
// the same two-file split the teacher uses for column vs. log
// (storage/persistence-files.go).
type FileBackend struct {
	path string
}

func (s *FileBackend) bodyPath(shardID string) string { return s.path + shardID + ".body" }
func (s *FileBackend) tailPath(shardID string) string  { return s.path + shardID + ".tail" }

func (s *FileBackend) ReadShardBody(shardID string) (io.ReadCloser, error) {
	f, err := os.Open(s.bodyPath(shardID))
	if err != nil {
		return ErrorReader{err}, nil
	}
	return f, nil
}

func (s *FileBackend) WriteShardBody(shardID string) (io.WriteCloser, error) {
	if err := os.MkdirAll(s.path, 0750); err != nil {
		return nil, err
	}
	return os.Create(s.bodyPath(shardID))
}

func (s *FileBackend) OpenShardAppend(shardID string) (AppendWriter, error) {
	if err := os.MkdirAll(s.path, 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.tailPath(shardID), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, err
	}
	return &fileAppendWriter{f: f}, nil
}

type fileAppendWriter struct {
	f *os.File
}

func (w *fileAppendWriter) Write(p []byte) (int, error) { return w.f.Write(p) }
func (w *fileAppendWriter) Offset() (int64, error) {
	fi, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
func (w *fileAppendWriter) Sync() error  { return w.f.Sync() }
func (w *fileAppendWriter) Close() error { return w.f.Close() }

func (s *FileBackend) ReplayShardChunks(shardID string) (<-chan Chunk, error) {
	out := make(chan Chunk, 8)
	f, err := os.Open(s.tailPath(shardID))
	if err != nil {
		close(out)
		return out, nil
	}
	go func() {
		defer f.Close()
		defer close(out)
		var offset int64
		for {
			var lenbuf [4]byte
			if _, err := io.ReadFull(f, lenbuf[:]); err != nil {
				return
			}
			n := int(uint32(lenbuf[0]) | uint32(lenbuf[1])<<8 | uint32(lenbuf[2])<<16 | uint32(lenbuf[3])<<24)
			data := make([]byte, n)
			if _, err := io.ReadFull(f, data); err != nil {
				return
			}
			out <- Chunk{Offset: offset, Data: data}
			offset += int64(4 + n)
		}
	}()
	return out, nil
}

func (s *FileBackend) RemoveShard(shardID string) error {
	err1 := os.Remove(s.bodyPath(shardID))
	err2 := os.Remove(s.tailPath(shardID))
	if err1 != nil && !os.IsNotExist(err1) {
		return err1
	}
	if err2 != nil && !os.IsNotExist(err2) {
		return err2
	}
	return nil
}

func (s *FileBackend) Remove() error {
	return os.RemoveAll(s.path)
}
