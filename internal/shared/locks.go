package shared

import "fmt"

// OrderLockKey builds redis keys guarding checkout of a saved order.
func OrderLockKey(orderID string) string {
	return fmt.Sprintf("pos:order:%s:lock", orderID)
}
