package graph

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// Properties 节点属性
type Properties map[string]any

// Node 图节点，只在一个标签的批次内存在
type Node struct {
	Label      string     `json:"label"`
	Properties Properties `json:"properties"`
}

// StoredNode 存储中的节点
type StoredNode struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Properties Properties `json:"properties"`
}

// ValueKey 把属性值规整成可比较的 map 键
//
// 不同驱动、不同编码对整数的表示不同（int32/int64/uint8...），
// 端点匹配按值相等进行，所以整数统一为 int64，文本统一为 string。
func ValueKey(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return uintKey(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return uintKey(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case string, float64, bool:
		return x
	}
	if reflect.TypeOf(v).Comparable() {
		return v
	}
	return fmt.Sprint(v)
}

func uintKey(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}
