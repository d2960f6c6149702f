package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Store 负责管理按缓存代组织的磁盘缓存。磁盘布局遵循：
//
//	<StoragePath>/<generation>/<sha1(key)>.json    # 完整响应信封
//
// Match 只在传入的缓存代内查找，静态与数据缓存互不遮蔽。
type Store interface {
	// Put 将一次捕获的响应写入指定缓存代，已有条目被无条件整体替换。
	Put(ctx context.Context, generation string, key Key, resp *Response) error

	// Match 在指定缓存代内查找条目。若不存在则返回 ErrNotFound。
	Match(ctx context.Context, generation string, key Key) (*Response, error)

	// Keys 枚举某个缓存代当前持有的全部条目键，供后台同步批量刷新。
	Keys(ctx context.Context, generation string) ([]Key, error)

	// Generations 列出磁盘上现存的全部缓存代名称。
	Generations(ctx context.Context) ([]string, error)

	// Drop 整体删除一个缓存代及其全部条目。
	Drop(ctx context.Context, generation string) error
}

// Key 是条目的规范请求标识：方法 + 绝对 URL，仅限只读方法。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewKey 规范化方法大小写后构造 Key。
func NewKey(method, url string) Key {
	return Key{Method: strings.ToUpper(strings.TrimSpace(method)), URL: url}
}

// String 输出 "GET https://…" 形式，作为条目摘要与日志字段。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Response 是一次完整捕获的上游响应，写入后不可变；刷新会在同一
// Key 下生成整体替换的新条目。
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Clone 深拷贝响应，避免调用方改写缓存内的 Header/Body。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		Status:   r.Status,
		Header:   make(http.Header, len(r.Header)),
		Body:     append([]byte(nil), r.Body...),
		StoredAt: r.StoredAt,
	}
	for key, values := range r.Header {
		cloned.Header[key] = append([]string(nil), values...)
	}
	return cloned
}

// ErrNotFound 表示缓存不存在；对策略层而言这是正常分支而非错误。
var ErrNotFound = errors.New("cache entry not found")
