// Command wrsync syncs Wrike projects and HubSpot CRM objects into the
// Neon warehouse.
package main

func main() {
	Execute()
}
