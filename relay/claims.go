package relay

import "github.com/okdaichi/moqlite/pkg/path"

// Claims describes what one downstream session is authorized to do once
// admitted (spec §6). Token verification itself is out of scope for this
// package: whatever sits in front of ListenAndServe (a reverse proxy, an
// Authenticate callback backed by a JWT library) already verified the
// token and hands back the claims it carried.
type Claims struct {
	// Root scopes Publish and Subscribe, which are relative to it. Leave
	// it empty to treat Publish/Subscribe as absolute prefixes.
	Root string
	// Publish lists the path prefixes, relative to Root, this session may
	// publish or announce broadcasts under.
	Publish []string
	// Subscribe lists the path prefixes, relative to Root, this session
	// may subscribe to or request announces for.
	Subscribe []string
}

func (c Claims) publishPrefixes() []path.Path   { return c.prefixes(c.Publish) }
func (c Claims) subscribePrefixes() []path.Path { return c.prefixes(c.Subscribe) }

func (c Claims) prefixes(rel []string) []path.Path {
	root := path.New(c.Root)
	out := make([]path.Path, 0, len(rel))
	for _, r := range rel {
		out = append(out, root.Join(path.New(r)))
	}
	return out
}
