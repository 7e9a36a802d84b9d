package state

import "fmt"

func ClusterStateKey(dateKey string) string {
	return fmt.Sprintf("cluster:state:%s", dateKey)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
