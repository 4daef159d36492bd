package discovery

import "testing"

func TestShutdownNilSafe(t *testing.T) {
	var a *Advertiser
	a.Shutdown()

	(&Advertiser{}).Shutdown()
}
