package appointment

// freeSlots returns the template slots not in occupied, keeping template
// order. Occupied slots that are not in the template are ignored.
func freeSlots(template, occupied []string) []string {
	taken := make(map[string]struct{}, len(occupied))
	for _, s := range occupied {
		taken[s] = struct{}{}
	}
	free := make([]string, 0, len(template))
	for _, s := range template {
		if _, ok := taken[s]; ok {
			continue
		}
		free = append(free, s)
	}
	return free
}
