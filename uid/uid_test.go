package uid

import (
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/hatlonely/crudgw/ref"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUUIDGenerator(t *testing.T) {
	Convey("UUID 生成器", t, func() {
		Convey("默认 v4 不带连字符", func() {
			g, err := NewUUIDGeneratorWithOptions(nil)
			So(err, ShouldBeNil)
			So(g.Generate(), ShouldHaveLength, 32)
			So(regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(g.Generate()), ShouldBeTrue)
		})

		Convey("带连字符", func() {
			for _, version := range []string{"v1", "v4", "v6", "v7"} {
				g, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: version, WithHyphens: true})
				So(err, ShouldBeNil)
				So(regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`).MatchString(g.Generate()), ShouldBeTrue)
			}
		})

		Convey("不支持的版本", func() {
			_, err := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v9"})
			So(err, ShouldNotBeNil)
		})

		Convey("不重复", func() {
			g, _ := NewUUIDGeneratorWithOptions(&UUIDOptions{Version: "v7"})
			seen := map[string]bool{}
			for i := 0; i < 1000; i++ {
				id := g.Generate()
				So(seen[id], ShouldBeFalse)
				seen[id] = true
			}
		})
	})
}

func TestTimestampSeqGenerator(t *testing.T) {
	Convey("时间戳序列生成器", t, func() {
		g := NewTimestampSeqGenerator()

		Convey("单调递增", func() {
			last := int64(0)
			for i := 0; i < 10000; i++ {
				id, err := strconv.ParseInt(g.Generate(), 36, 64)
				So(err, ShouldBeNil)
				So(id, ShouldBeGreaterThan, last)
				last = id
			}
		})

		Convey("并发不重复", func() {
			var mu sync.Mutex
			var wg sync.WaitGroup
			seen := map[string]bool{}
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 1000; j++ {
						id := g.Generate()
						mu.Lock()
						seen[id] = true
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			So(len(seen), ShouldEqual, 8000)
		})
	})
}

func TestNew(t *testing.T) {
	Convey("通过注册表创建", t, func() {
		Convey("空配置使用 UUID v4", func() {
			g, err := New(nil)
			So(err, ShouldBeNil)
			So(g.Generate(), ShouldHaveLength, 36)
		})

		Convey("省略命名空间", func() {
			g, err := New(&ref.TypeOptions{Type: "TimestampSeq"})
			So(err, ShouldBeNil)
			So(g, ShouldHaveSameTypeAs, &TimestampSeqGenerator{})
		})

		Convey("带参数", func() {
			g, err := New(&ref.TypeOptions{Namespace: Namespace, Type: "UUID", Options: &UUIDOptions{Version: "v7"}})
			So(err, ShouldBeNil)
			So(g.Generate(), ShouldHaveLength, 32)
		})

		Convey("未注册的类型", func() {
			_, err := New(&ref.TypeOptions{Type: "Snowflake"})
			So(err, ShouldNotBeNil)
		})
	})
}
