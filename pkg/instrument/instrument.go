// Package instrument rewrites collection sources so that every statement
// touching shared memory is preceded by a yield through the collection's
// fiber.Yielder field. The result can be registered with the harness like a
// hand-written collection.
package instrument

import (
	"fmt"
	"go/ast"
	"go/format"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"io"

	"golang.org/x/tools/go/ast/astutil"
)

// Config holds configuration for the instrumentation
type Config struct {
	// ImportRewrites maps import paths to replacement paths
	ImportRewrites map[string]string

	// YieldField is the struct field holding the Yielder. Only methods of
	// types declaring this field are instrumented.
	YieldField string

	// YieldMethod is the method called on YieldField.
	YieldMethod string

	// Importer is used for resolving imports during type checking
	// If nil, importer.Default() is used
	Importer types.Importer
}

// DefaultConfig returns a Config with default settings
func DefaultConfig() *Config {
	return &Config{
		YieldField:     "y",
		YieldMethod:    "Yield",
		ImportRewrites: map[string]string{},
	}
}

// Instrumenter handles the instrumentation of Go source code
type Instrumenter struct {
	config          *Config
	typeInfo        *types.Info
	instrumented    bool // tracks if any yield was added to current file
	anyInstrumented bool // tracks if any file had yields added
	yields          int
}

// NewInstrumenter creates a new Instrumenter with the given config
func NewInstrumenter(config *Config) *Instrumenter {
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.YieldField == "" {
		config.YieldField = def.YieldField
	}
	if config.YieldMethod == "" {
		config.YieldMethod = def.YieldMethod
	}
	return &Instrumenter{
		config: config,
	}
}

// WasInstrumented returns true if any yield was added during the last operation
func (instr *Instrumenter) WasInstrumented() bool {
	return instr.anyInstrumented
}

// Yields returns the number of yields added during the last operation.
func (instr *Instrumenter) Yields() int {
	return instr.yields
}

// InstrumentFile instruments a single Go source file
func (instr *Instrumenter) InstrumentFile(fset *token.FileSet, filename string, src interface{}) (*ast.File, error) {
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	return instr.InstrumentAST(fset, f)
}

// InstrumentFiles instruments multiple Go source files together (for proper type checking)
func (instr *Instrumenter) InstrumentFiles(fset *token.FileSet, filenames []string) ([]*ast.File, error) {
	files := make([]*ast.File, len(filenames))
	for i, filename := range filenames {
		f, err := parser.ParseFile(fset, filename, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
		files[i] = f
	}

	return instr.InstrumentASTs(fset, files)
}

// InstrumentASTs instruments multiple already-parsed ASTs together
func (instr *Instrumenter) InstrumentASTs(fset *token.FileSet, files []*ast.File) ([]*ast.File, error) {
	instr.anyInstrumented = false
	instr.yields = 0
	instr.check(fset, files)

	yielding := instr.yieldingTypes(files)
	for _, f := range files {
		instr.instrumentSingleAST(fset, f, yielding)
	}

	return files, nil
}

// InstrumentAST instruments an already-parsed AST
func (instr *Instrumenter) InstrumentAST(fset *token.FileSet, f *ast.File) (*ast.File, error) {
	files, err := instr.InstrumentASTs(fset, []*ast.File{f})
	if err != nil {
		return nil, err
	}
	return files[0], nil
}

// check type-checks files. Partial information is kept when imports cannot
// be resolved; it is dropped only when nothing could be checked.
func (instr *Instrumenter) check(fset *token.FileSet, files []*ast.File) {
	imp := instr.config.Importer
	if imp == nil {
		imp = importer.Default()
	}
	conf := types.Config{
		Importer: imp,
		Error:    func(error) {},
	}
	instr.typeInfo = &types.Info{
		Types:      make(map[ast.Expr]types.TypeAndValue),
		Defs:       make(map[*ast.Ident]types.Object),
		Uses:       make(map[*ast.Ident]types.Object),
		Selections: make(map[*ast.SelectorExpr]*types.Selection),
	}
	_, typeErr := conf.Check("", fset, files, instr.typeInfo)
	if typeErr != nil && len(instr.typeInfo.Defs) == 0 && len(instr.typeInfo.Uses) == 0 {
		instr.typeInfo = nil
	}
}

// yieldingTypes returns the names of struct types declaring the yield field.
func (instr *Instrumenter) yieldingTypes(files []*ast.File) map[string]bool {
	names := make(map[string]bool)
	for _, f := range files {
		ast.Inspect(f, func(n ast.Node) bool {
			spec, ok := n.(*ast.TypeSpec)
			if !ok {
				return true
			}
			st, ok := spec.Type.(*ast.StructType)
			if !ok {
				return true
			}
			for _, field := range st.Fields.List {
				for _, name := range field.Names {
					if name.Name == instr.config.YieldField {
						names[spec.Name.Name] = true
					}
				}
			}
			return true
		})
	}
	return names
}

// receiver returns the receiver name of fn if fn is a method of a yielding
// type.
func receiver(fn *ast.FuncDecl, yielding map[string]bool) (string, bool) {
	if fn.Recv == nil || len(fn.Recv.List) != 1 || fn.Body == nil {
		return "", false
	}
	field := fn.Recv.List[0]
	if len(field.Names) != 1 || isBlankIdent(field.Names[0]) {
		return "", false
	}
	typ := field.Type
	if star, ok := typ.(*ast.StarExpr); ok {
		typ = star.X
	}
	switch t := typ.(type) {
	case *ast.IndexExpr:
		typ = t.X
	case *ast.IndexListExpr:
		typ = t.X
	}
	ident, ok := typ.(*ast.Ident)
	if !ok || !yielding[ident.Name] {
		return "", false
	}
	return field.Names[0].Name, true
}

// instrumentSingleAST performs the actual instrumentation on a single file
// (assumes typeInfo is already populated)
func (instr *Instrumenter) instrumentSingleAST(fset *token.FileSet, f *ast.File, yielding map[string]bool) {
	for k, v := range instr.config.ImportRewrites {
		astutil.RewriteImport(fset, f, k, v)
	}

	instr.instrumented = false

	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		recv, ok := receiver(fn, yielding)
		if !ok {
			continue
		}
		instr.instrumentMethod(fn, recv)
	}

	if instr.instrumented {
		instr.anyInstrumented = true
	}
}

func (instr *Instrumenter) instrumentMethod(fn *ast.FuncDecl, recv string) {
	// Pass 0: Lower control flow structures (if/for with init)
	astutil.Apply(fn.Body, nil, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.IfStmt:
			instr.lowerIfStmt(c, n)
		case *ast.ForStmt:
			instr.lowerForStmt(c, n)
		}
		return true
	})

	astutil.Apply(fn.Body, nil, func(c *astutil.Cursor) bool {
		stmt, ok := c.Node().(ast.Stmt)
		if !ok || !canInsertBefore(c) {
			return true
		}
		switch n := stmt.(type) {
		case *ast.ForStmt:
			instr.instrumentForStmt(c, n, recv)
		case *ast.RangeStmt:
			if instr.shared(n.X) {
				c.InsertBefore(instr.makeYield(recv))
			}
		default:
			if instr.touchesShared(stmt) {
				c.InsertBefore(instr.makeYield(recv))
			}
		}
		return true
	})

	instr.dedupe(fn.Body, recv)
}

// WriteInstrumented writes f as gofmt-formatted Go source.
func WriteInstrumented(w io.Writer, fset *token.FileSet, f *ast.File) error {
	return format.Node(w, fset, f)
}

func (instr *Instrumenter) makeYield(recv string) ast.Stmt {
	instr.instrumented = true
	instr.yields++
	return &ast.ExprStmt{
		X: &ast.CallExpr{
			Fun: &ast.SelectorExpr{
				X: &ast.SelectorExpr{
					X:   &ast.Ident{Name: recv},
					Sel: &ast.Ident{Name: instr.config.YieldField},
				},
				Sel: &ast.Ident{Name: instr.config.YieldMethod},
			},
		},
	}
}

func (instr *Instrumenter) isYield(stmt ast.Stmt, recv string) bool {
	es, ok := stmt.(*ast.ExprStmt)
	if !ok {
		return false
	}
	call, ok := es.X.(*ast.CallExpr)
	if !ok || len(call.Args) != 0 {
		return false
	}
	method, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || method.Sel.Name != instr.config.YieldMethod {
		return false
	}
	field, ok := method.X.(*ast.SelectorExpr)
	if !ok || field.Sel.Name != instr.config.YieldField {
		return false
	}
	x, ok := field.X.(*ast.Ident)
	return ok && x.Name == recv
}

// dedupe drops a yield that directly follows another one.
func (instr *Instrumenter) dedupe(body *ast.BlockStmt, recv string) {
	squash := func(list []ast.Stmt) []ast.Stmt {
		out := list[:0]
		for _, s := range list {
			if len(out) > 0 && instr.isYield(s, recv) && instr.isYield(out[len(out)-1], recv) {
				instr.yields--
				continue
			}
			out = append(out, s)
		}
		return out
	}
	ast.Inspect(body, func(n ast.Node) bool {
		switch b := n.(type) {
		case *ast.BlockStmt:
			b.List = squash(b.List)
		case *ast.CaseClause:
			b.Body = squash(b.Body)
		case *ast.CommClause:
			b.Body = squash(b.Body)
		}
		return true
	})
}

// lowerIfStmt transforms: if init; cond { body }
// Into: { init; if cond { body } }
func (instr *Instrumenter) lowerIfStmt(c *astutil.Cursor, stmt *ast.IfStmt) {
	if stmt.Init != nil && canInsertBefore(c) {
		block := &ast.BlockStmt{
			List: []ast.Stmt{
				stmt.Init,
				stmt,
			},
		}
		stmt.Init = nil
		c.Replace(block)
	}
}

// lowerForStmt transforms: for init; cond; post { body }
// Into: { init; for cond { body; post } }
func (instr *Instrumenter) lowerForStmt(c *astutil.Cursor, stmt *ast.ForStmt) {
	if !canInsertBefore(c) {
		return
	}
	if stmt.Post != nil && hasContinue(stmt.Body) {
		// Moving post into the body would skip it on continue.
		return
	}

	if stmt.Post != nil && stmt.Body != nil {
		stmt.Body.List = append(stmt.Body.List, stmt.Post)
		stmt.Post = nil
	}

	if stmt.Init != nil {
		block := &ast.BlockStmt{
			List: []ast.Stmt{
				stmt.Init,
				stmt,
			},
		}
		stmt.Init = nil
		c.Replace(block)
	}
}

// hasContinue reports whether body continues the loop it belongs to.
func hasContinue(body *ast.BlockStmt) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.ForStmt, *ast.RangeStmt, *ast.FuncLit:
			return false
		case *ast.BranchStmt:
			if n.Tok == token.CONTINUE {
				found = true
			}
		}
		return !found
	})
	return found
}

func (instr *Instrumenter) instrumentForStmt(c *astutil.Cursor, stmt *ast.ForStmt, recv string) {
	// The condition is evaluated before the loop and after every iteration.
	if stmt.Cond == nil || !instr.shared(stmt.Cond) {
		return
	}
	c.InsertBefore(instr.makeYield(recv))
	if stmt.Body != nil {
		stmt.Body.List = append(stmt.Body.List, instr.makeYield(recv))
	}
}

// canInsertBefore checks if the cursor is in a context where InsertBefore will work.
// InsertBefore only works when the current node is in a slice field of its parent.
func canInsertBefore(c *astutil.Cursor) bool {
	return c.Index() >= 0
}

func isBlankIdent(expr ast.Expr) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && ident.Name == "_"
}

// touchesShared reports whether executing the head of stmt reads or writes
// shared memory. Nested statements are visited on their own.
func (instr *Instrumenter) touchesShared(stmt ast.Stmt) bool {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		for _, rhs := range s.Rhs {
			if instr.shared(rhs) {
				return true
			}
		}
		for _, lhs := range s.Lhs {
			if isBlankIdent(lhs) {
				continue
			}
			if instr.shared(lhs) {
				return true
			}
		}
	case *ast.IncDecStmt:
		return instr.shared(s.X)
	case *ast.ExprStmt:
		return instr.shared(s.X)
	case *ast.SendStmt:
		return instr.shared(s.Chan) || instr.shared(s.Value)
	case *ast.ReturnStmt:
		for _, r := range s.Results {
			if instr.shared(r) {
				return true
			}
		}
	case *ast.IfStmt:
		return instr.shared(s.Cond)
	case *ast.SwitchStmt:
		return s.Tag != nil && instr.shared(s.Tag)
	case *ast.DeclStmt:
		gen, ok := s.Decl.(*ast.GenDecl)
		if !ok {
			return false
		}
		for _, spec := range gen.Specs {
			if vs, ok := spec.(*ast.ValueSpec); ok {
				for _, v := range vs.Values {
					if instr.shared(v) {
						return true
					}
				}
			}
		}
	}
	return false
}

// shared reports whether evaluating expr reads memory reachable from other
// fibers: fields, pointer targets, slice elements and package variables.
// Locals and the yield field itself are private.
func (instr *Instrumenter) shared(expr ast.Expr) bool {
	if expr == nil {
		return false
	}

	switch e := expr.(type) {
	case *ast.Ident:
		if isBuiltin(e.Name) || instr.typeInfo == nil {
			return false
		}
		return instr.packageVar(instr.typeInfo.Uses[e])
	case *ast.SelectorExpr:
		if instr.isPackage(e.X) {
			if instr.typeInfo == nil {
				return false
			}
			return instr.packageVar(instr.typeInfo.Uses[e.Sel])
		}
		if e.Sel.Name == instr.config.YieldField {
			return false
		}
		if instr.typeInfo != nil {
			if sel, ok := instr.typeInfo.Selections[e]; ok && !sel.Indirect() {
				if _, ptr := sel.Recv().Underlying().(*types.Pointer); !ptr {
					// Field of a struct value held locally.
					return instr.shared(e.X)
				}
			}
		}
		return true
	case *ast.StarExpr:
		return true
	case *ast.IndexExpr:
		if instr.typeInfo != nil {
			if tv, ok := instr.typeInfo.Types[e.X]; ok && tv.IsType() {
				return false // generic instantiation
			}
		}
		return instr.shared(e.X) || instr.shared(e.Index) || instr.sliceOrMap(e.X)
	case *ast.IndexListExpr:
		return false
	case *ast.UnaryExpr:
		return instr.shared(e.X)
	case *ast.BinaryExpr:
		return instr.shared(e.X) || instr.shared(e.Y)
	case *ast.CallExpr:
		switch fun := e.Fun.(type) {
		case *ast.SelectorExpr, *ast.FuncLit:
			// A method's receiver is the callee's business.
		default:
			if instr.shared(fun) {
				return true
			}
		}
		for _, arg := range e.Args {
			if instr.shared(arg) {
				return true
			}
		}
		return false
	case *ast.ParenExpr:
		return instr.shared(e.X)
	case *ast.SliceExpr:
		return instr.shared(e.X) || instr.shared(e.Low) || instr.shared(e.High) || instr.shared(e.Max)
	case *ast.TypeAssertExpr:
		return instr.shared(e.X)
	case *ast.CompositeLit:
		for _, elt := range e.Elts {
			if instr.shared(elt) {
				return true
			}
		}
		return false
	case *ast.KeyValueExpr:
		return instr.shared(e.Value)
	case *ast.BasicLit, *ast.FuncLit:
		return false
	}
	return false
}

func (instr *Instrumenter) isPackage(expr ast.Expr) bool {
	ident, ok := expr.(*ast.Ident)
	if !ok {
		return false
	}
	if instr.typeInfo == nil {
		// No type info - be conservative
		return false
	}
	obj := instr.typeInfo.Uses[ident]
	if obj == nil {
		// X not in Uses either - assume it's a package
		return true
	}
	_, isPkg := obj.(*types.PkgName)
	return isPkg
}

func (instr *Instrumenter) packageVar(obj types.Object) bool {
	v, ok := obj.(*types.Var)
	if !ok || v.IsField() || v.Pkg() == nil {
		return false
	}
	return v.Parent() == v.Pkg().Scope()
}

// sliceOrMap reports whether indexing expr reads a shared backing store.
func (instr *Instrumenter) sliceOrMap(expr ast.Expr) bool {
	if instr.typeInfo == nil {
		return false
	}
	tv, ok := instr.typeInfo.Types[expr]
	if !ok || tv.Type == nil {
		return false
	}
	switch tv.Type.Underlying().(type) {
	case *types.Slice, *types.Map:
		return true
	}
	return false
}

func isBuiltin(name string) bool {
	builtins := map[string]bool{
		"append": true, "cap": true, "clear": true, "close": true, "complex": true,
		"copy": true, "delete": true, "imag": true, "len": true,
		"make": true, "max": true, "min": true, "new": true, "panic": true, "print": true,
		"println": true, "real": true, "recover": true,
		"true": true, "false": true, "nil": true, "iota": true,
	}
	return builtins[name]
}
