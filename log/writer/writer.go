package writer

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hatlonely/crudgw/ref"
	"github.com/pkg/errors"
)

// Namespace 输出器在 ref 注册表中的命名空间
const Namespace = "github.com/hatlonely/crudgw/log/writer"

func init() {
	ref.MustRegister(Namespace, "ConsoleWriter", NewConsoleWriterWithOptions)
	ref.MustRegister(Namespace, "FileWriter", NewFileWriterWithOptions)
	ref.MustRegister(Namespace, "MultiWriter", NewMultiWriterWithOptions)
}

// Writer 日志输出器
type Writer interface {
	io.Writer
	io.Closer
}

// New 通过注册表创建输出器
func New(options *ref.TypeOptions) (Writer, error) {
	obj, err := ref.NewWithOptions(options)
	if err != nil {
		return nil, errors.WithMessage(err, "create writer")
	}
	w, ok := obj.(Writer)
	if !ok {
		return nil, errors.Errorf("%s:%s does not implement Writer", options.Namespace, options.Type)
	}
	return w, nil
}

type ConsoleWriterOptions struct {
	// stdout 或 stderr，其他值按 stdout 处理
	Target string `cfg:"target" def:"stdout"`
}

// ConsoleWriter 输出到标准输出或标准错误，Close 不会关闭底层文件
type ConsoleWriter struct {
	w      io.Writer
	target string
}

func NewConsoleWriterWithOptions(options *ConsoleWriterOptions) (*ConsoleWriter, error) {
	if options == nil {
		options = &ConsoleWriterOptions{}
	}

	if options.Target == "stderr" {
		return &ConsoleWriter{w: os.Stderr, target: "stderr"}, nil
	}
	return &ConsoleWriter{w: os.Stdout, target: "stdout"}, nil
}

func (c *ConsoleWriter) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *ConsoleWriter) Close() error {
	return nil
}

type FileWriterOptions struct {
	Path string `cfg:"path" validate:"required"`
}

// FileWriter 追加写入文件，并发安全
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileWriterWithOptions(options *FileWriterOptions) (*FileWriter, error) {
	if options == nil || options.Path == "" {
		return nil, errors.New("file path is required")
	}

	if err := os.MkdirAll(filepath.Dir(options.Path), 0755); err != nil {
		return nil, errors.Wrapf(err, "create log directory for %s", options.Path)
	}

	f, err := os.OpenFile(options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", options.Path)
	}

	return &FileWriter{file: f}, nil
}

func (f *FileWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, errors.New("file writer is closed")
	}
	return f.file.Write(p)
}

func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

type MultiWriterOptions struct {
	Writers []ref.TypeOptions `cfg:"writers" validate:"min=1"`
}

// MultiWriter 把同一条日志写到多个输出器
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriterWithOptions(options *MultiWriterOptions) (*MultiWriter, error) {
	if options == nil || len(options.Writers) == 0 {
		return nil, errors.New("at least one writer is required")
	}

	m := &MultiWriter{}
	for i := range options.Writers {
		w, err := New(&options.Writers[i])
		if err != nil {
			_ = m.Close()
			return nil, errors.WithMessagef(err, "writer %d", i)
		}
		m.writers = append(m.writers, w)
	}
	return m, nil
}

// NewMultiWriter 直接组合已有的输出器
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	for i, w := range m.writers {
		n, err := w.Write(p)
		if err != nil {
			return n, errors.Wrapf(err, "writer %d", i)
		}
		if n != len(p) {
			return n, io.ErrShortWrite
		}
	}
	return len(p), nil
}

func (m *MultiWriter) Close() error {
	var lastErr error
	for i, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = errors.Wrapf(err, "close writer %d", i)
		}
	}
	return lastErr
}
