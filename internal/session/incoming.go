package session

import (
	"net/url"
	"strings"

	"github.com/walletd/walletd/internal/payparse"
)

const giftPathPrefix = "/gift"

// HandleIncomingString routes a pasted or scanned string. Links into the
// app's gift flow become a navigation intent; everything else goes to the
// parser for the engine's network. onError receives parse failures and
// onSuccess results that name an address, invoice, node or LNURL.
func (s *Store) HandleIncomingString(input string, onError func(error), onSuccess func(payparse.ParsedParams)) {
	if u, err := url.Parse(input); err == nil && u.Scheme != "" && strings.HasPrefix(u.Path, giftPathPrefix) {
		if s.navigate != nil {
			target := u.Path
			if u.RawQuery != "" {
				target += "?" + u.RawQuery
			}
			s.navigate(target)
		}
		return
	}

	network := payparse.NetworkSignet
	if eng := s.currentEngine(); eng != nil && eng.Network() != "" {
		network = eng.Network()
	}

	result, err := s.parser.Parse(input, network)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if result.HasDestination() && onSuccess != nil {
		onSuccess(result)
	}
}
