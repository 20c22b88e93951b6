//go:build !darwin

package permissions

// Other platforms have no per-app capture permission.
func platformCheckCamera() Status { return PermissionAuthorized }
func platformCheckMicrophone() Status { return PermissionAuthorized }
func platformRequestCamera() {}
func platformRequestMicrophone() {}
