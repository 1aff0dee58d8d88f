package peers

import (
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
)

var (
	ErrInvalidAddress = errors.New("peers: invalid peer address")
	ErrDuplicatePeer  = errors.New("peers: duplicate peer")
)

// Directory is the static neighbor table of one node. It is built once from
// configuration and never changes, so it is safe for concurrent use without
// locking.
type Directory struct {
	self  flood.PeerID
	order []flood.PeerID
	set   map[flood.PeerID]struct{}
	hosts map[string]struct{}
}

// New builds the directory for self. Every neighbor must be a host:port
// address; self is never its own neighbor.
func New(self flood.PeerID, neighbors []flood.PeerID) (*Directory, error) {
	d := &Directory{
		self:  self,
		set:   make(map[flood.PeerID]struct{}, len(neighbors)),
		hosts: make(map[string]struct{}, len(neighbors)),
	}
	for _, nb := range neighbors {
		host, _, err := net.SplitHostPort(string(nb))
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddress, nb, err)
		}
		if nb == self {
			return nil, fmt.Errorf("%w: %s lists itself", ErrInvalidAddress, nb)
		}
		if _, dup := d.set[nb]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePeer, nb)
		}
		d.set[nb] = struct{}{}
		d.order = append(d.order, nb)
		d.hosts[host] = struct{}{}
	}
	sort.Slice(d.order, func(i, j int) bool { return d.order[i] < d.order[j] })
	return d, nil
}

// Self returns the owning peer.
func (d *Directory) Self() flood.PeerID { return d.self }

// Neighbors returns a sorted copy of the neighbor list.
func (d *Directory) Neighbors() []flood.PeerID {
	out := make([]flood.PeerID, len(d.order))
	copy(out, d.order)
	return out
}

// IsNeighbor reports whether peer is in the table.
func (d *Directory) IsNeighbor(peer flood.PeerID) bool {
	_, ok := d.set[peer]
	return ok
}

// Len returns the number of neighbors.
func (d *Directory) Len() int { return len(d.order) }

// AllowsHost reports whether an inbound connection from host may belong to a
// neighbor. Inbound sockets use ephemeral ports, so only the host is compared.
func (d *Directory) AllowsHost(host string) bool {
	_, ok := d.hosts[host]
	return ok
}
