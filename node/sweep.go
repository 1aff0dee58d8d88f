package node

import "time"

// sweepLoop reaps expired broadcast tombstones until the node stops.
func (n *Node) sweepLoop(interval time.Duration) {
	defer n.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if reaped := n.engine.Sweep(); reaped > 0 {
				n.debugf("swept %d tombstones", reaped)
			}
		case <-n.ctx.Done():
			return
		}
	}
}
