package workspace

// builtinWorkspaceSchema is the CUE schema the workspace configuration must
// satisfy. Defaults are applied during unification.
const builtinWorkspaceSchema = `
#PackageManager: {
	command: string & !=""
	installArgs: [...string] | *["install"]
	lockArgs: [...string] | *["install", "--package-lock-only"]
	cleanArgs: [...string] | *["cache", "clean", "--force"]
	pathPrefix: string | *""
}

#ProjectRef: {
	folder: string & !=""
	reviewCategory: string | *""
}

#Workspace: {
	resolutionStrategy: "lowest" | "highest" | *"lowest"
	allowMismatchedInternalRanges: bool | *false
	resolutionFolder: string | *"node_modules"
	governancePolicy: string | *""
	selector: string | *""
	packageManager: #PackageManager
	projects: [...#ProjectRef] & [_, ...]
}

#Workspace
`
