package redisrepo

import "fmt"

const ns = "showbook:v1"

// KeySeatLock is the lock coordinator key for one show seat.
func KeySeatLock(showID, showSeatID int64) string {
	return fmt.Sprintf("lock:seat:%d:%d", showID, showSeatID)
}

func KeyShowLayout(showID int64) string {
	return fmt.Sprintf("%s:show:%d:layout", ns, showID)
}

func KeyShowAvailability(showID int64) string {
	return fmt.Sprintf("%s:show:%d:availability", ns, showID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemInitiate(userID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:initiate:%d:%s", ns, userID, idemKey)
}

func ChannelShowSeatsChanged() string {
	return ns + ":show-seats:changed"
}
