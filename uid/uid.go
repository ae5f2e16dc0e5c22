package uid

import (
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hatlonely/crudgw/ref"
	"github.com/pkg/errors"
)

// Namespace 生成器在 ref 注册表中的命名空间
const Namespace = "github.com/hatlonely/crudgw/uid"

func init() {
	ref.MustRegister(Namespace, "UUID", NewUUIDGeneratorWithOptions)
	ref.MustRegister(Namespace, "TimestampSeq", NewTimestampSeqGenerator)
}

// Generator 生成字符串 ID，用作请求 ID
type Generator interface {
	Generate() string
}

// New 通过注册表创建生成器，options 为空时使用带连字符的 UUID v4
func New(options *ref.TypeOptions) (Generator, error) {
	if options == nil || options.Type == "" {
		return NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v4", WithHyphens: true})
	}
	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	obj, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "create generator")
	}
	g, ok := obj.(Generator)
	if !ok {
		return nil, errors.Errorf("%s:%s does not implement Generator", namespace, options.Type)
	}
	return g, nil
}

type UUIDOptions struct {
	Version string `cfg:"version" def:"v4" validate:"oneof=v1 v4 v6 v7"`
	// 是否包含中划线连字符
	WithHyphens bool `cfg:"withHyphens"`
}

type UUIDGenerator struct {
	version     string
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) (*UUIDGenerator, error) {
	if options == nil {
		options = &UUIDOptions{}
	}
	version := options.Version
	if version == "" {
		version = "v4"
	}
	switch version {
	case "v1", "v4", "v6", "v7":
	default:
		return nil, errors.Errorf("unsupported uuid version: %s", version)
	}
	return &UUIDGenerator{version: version, withHyphens: options.WithHyphens}, nil
}

func (g *UUIDGenerator) Generate() string {
	var u uuid.UUID
	switch g.version {
	case "v1":
		u = uuid.Must(uuid.NewUUID())
	case "v6":
		u = uuid.Must(uuid.NewV6())
	case "v7":
		u = uuid.Must(uuid.NewV7())
	default:
		u = uuid.New()
	}

	if g.withHyphens {
		return u.String()
	}
	return hex.EncodeToString(u[:])
}

// TimestampSeqGenerator 高 52 位毫秒时间戳，低 12 位序列号，按 36 进制输出
// 单进程内单调递增
type TimestampSeqGenerator struct {
	state int64
}

func NewTimestampSeqGenerator() *TimestampSeqGenerator {
	return &TimestampSeqGenerator{state: time.Now().UnixMilli() << 12}
}

func (g *TimestampSeqGenerator) Generate() string {
	return strconv.FormatInt(g.next(), 36)
}

func (g *TimestampSeqGenerator) next() int64 {
	for {
		old := atomic.LoadInt64(&g.state)
		ts, seq := old>>12, old&0xFFF

		now := time.Now().UnixMilli()
		if now <= ts {
			// 时钟回拨时沿用上一个时间戳
			now = ts
			seq = (seq + 1) & 0xFFF
			if seq == 0 {
				// 序列号用完，借用下一毫秒
				now = ts + 1
			}
		} else {
			seq = 0
		}

		state := now<<12 | seq
		if atomic.CompareAndSwapInt64(&g.state, old, state) {
			return state
		}
	}
}
