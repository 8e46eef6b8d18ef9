package authz

// Logical actions of a CRUD resource endpoint.
const (
	ActionRetrieve      = "retrieve"
	ActionList          = "list"
	ActionUpdate        = "update"
	ActionPartialUpdate = "partial_update"
	ActionDestroy       = "destroy"
)

// CRUDPermissions is the usual object permission map for a CRUD resource:
// reads need view, writes need change, destroy needs delete, and any other
// action falls back to view.
func CRUDPermissions(resourceType string) ActionPermissions {
	view := Codename(resourceType, ActionView)
	change := Codename(resourceType, ActionChange)
	del := Codename(resourceType, ActionDelete)
	return ActionPermissions{
		ActionRetrieve:      {view},
		ActionList:          {view},
		ActionUpdate:        {change},
		ActionPartialUpdate: {change},
		ActionDestroy:       {del},
		AnyAction:           {view},
	}
}
