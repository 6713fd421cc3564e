package artifacts

// Lineage walks parent links from the newest version of path and returns the
// chain newest first. Parents are resolved across every path in the registry;
// the walk stops at a version without a parent, an unknown parent, or a cycle.
func (r *Registry) Lineage(path string) ([]Version, error) {
	identity, err := Identity(path)
	if err != nil {
		return nil, err
	}
	idx, err := r.read()
	if err != nil {
		return nil, err
	}
	versions := idx[idx.keyFor(identity, path)]
	if len(versions) == 0 {
		return nil, nil
	}

	byID := map[string]Version{}
	for _, list := range idx {
		for _, v := range list {
			byID[v.VersionID] = v
		}
	}

	current := versions[len(versions)-1]
	chain := []Version{current.clone()}
	seen := map[string]struct{}{current.VersionID: {}}
	for current.ParentVersionID != "" {
		parent, ok := byID[current.ParentVersionID]
		if !ok {
			break
		}
		if _, loop := seen[parent.VersionID]; loop {
			break
		}
		seen[parent.VersionID] = struct{}{}
		chain = append(chain, parent.clone())
		current = parent
	}
	return chain, nil
}
